package world

import (
	"encoding/json"
	"fmt"
	"math"
)

// Config field names as they appear in the world config file.
const (
	FieldWorldName    = "WorldName"
	FieldWorldSizeX   = "WorldSizeX"
	FieldWorldSizeY   = "WorldSizeY"
	FieldTileRealSize = "TileRealSize"
	FieldWaterPercent = "WaterPercent"
	FieldLandPercent  = "LandPercent"
	FieldLandSoil     = "LandSoil"
	FieldLandRock     = "LandRock"
	FieldLandGrass    = "LandGrass"
	FieldLandTree     = "LandTree"
	FieldLandHole     = "LandHole"
)

// RequiredFields lists every config field, in the order they are checked.
var RequiredFields = []string{
	FieldWorldName, FieldWorldSizeX, FieldWorldSizeY, FieldTileRealSize,
	FieldWaterPercent, FieldLandPercent,
	FieldLandSoil, FieldLandRock, FieldLandGrass, FieldLandTree, FieldLandHole,
}

// WorldConfig holds world generation parameters.
// It is built once by ParseConfig and never mutated afterwards.
type WorldConfig struct {
	Name         string  `json:"WorldName"`
	Width        int     `json:"WorldSizeX"`
	Height       int     `json:"WorldSizeY"`
	TileRealSize float64 `json:"TileRealSize"` // Real-world edge length of one tile
	WaterPercent int     `json:"WaterPercent"`
	LandPercent  int     `json:"LandPercent"`
	Soil         int     `json:"LandSoil"`
	Rock         int     `json:"LandRock"`
	Grass        int     `json:"LandGrass"`
	Tree         int     `json:"LandTree"`
	Hole         int     `json:"LandHole"`
}

// SmallTestConfig returns the 10×10 reference world.
func SmallTestConfig() WorldConfig {
	return WorldConfig{
		Name:         "Testland",
		Width:        10,
		Height:       10,
		TileRealSize: 1.0,
		WaterPercent: 30,
		LandPercent:  70,
		Soil:         20,
		Rock:         20,
		Grass:        20,
		Tree:         20,
		Hole:         20,
	}
}

// LandShare returns the configured share of land for a land subcategory.
func (c WorldConfig) LandShare(cat Category) int {
	switch cat {
	case CategorySoil:
		return c.Soil
	case CategoryRock:
		return c.Rock
	case CategoryGrass:
		return c.Grass
	case CategoryTree:
		return c.Tree
	case CategoryHole:
		return c.Hole
	default:
		return 0
	}
}

// TotalTiles returns Width×Height.
func (c WorldConfig) TotalTiles() int {
	return c.Width * c.Height
}

// MaxTiles caps Width×Height. It keeps the grid allocatable and every
// total×percent product well inside int.
const MaxTiles = 1 << 28

// Validate checks dimensions and percentage invariants.
func (c WorldConfig) Validate() error {
	if c.Width <= 0 {
		return &FieldError{Field: FieldWorldSizeX, Err: fmt.Errorf("must be positive, got %d: %w", c.Width, ErrInvalidValue)}
	}
	if c.Height <= 0 {
		return &FieldError{Field: FieldWorldSizeY, Err: fmt.Errorf("must be positive, got %d: %w", c.Height, ErrInvalidValue)}
	}
	if c.Width > MaxTiles/c.Height {
		return &FieldError{Field: FieldWorldSizeX, Err: fmt.Errorf("%dx%d exceeds %d tiles: %w", c.Width, c.Height, MaxTiles, ErrInvalidValue)}
	}
	if !(c.TileRealSize > 0) || math.IsInf(c.TileRealSize, 0) {
		return &FieldError{Field: FieldTileRealSize, Err: fmt.Errorf("must be positive, got %v: %w", c.TileRealSize, ErrInvalidValue)}
	}

	percents := []struct {
		field string
		value int
	}{
		{FieldWaterPercent, c.WaterPercent},
		{FieldLandPercent, c.LandPercent},
		{FieldLandSoil, c.Soil},
		{FieldLandRock, c.Rock},
		{FieldLandGrass, c.Grass},
		{FieldLandTree, c.Tree},
		{FieldLandHole, c.Hole},
	}
	for _, p := range percents {
		if p.value < 0 || p.value > 100 {
			return &FieldError{Field: p.field, Err: fmt.Errorf("%d outside 0-100: %w", p.value, ErrInvalidPercent)}
		}
	}

	if sum := c.WaterPercent + c.LandPercent; sum != 100 {
		return fmt.Errorf("WaterPercent and LandPercent must sum to 100, got %d: %w", sum, ErrInvalidPercent)
	}
	if sum := c.Soil + c.Rock + c.Grass + c.Tree + c.Hole; sum != 100 {
		return fmt.Errorf("land tile percentages must sum to 100, got %d: %w", sum, ErrInvalidPercent)
	}
	return nil
}

// ParseConfig builds a validated WorldConfig from a raw key-value mapping,
// as decoded from a JSON or YAML config file. The first absent field in
// RequiredFields order is reported with ErrMissingField.
func ParseConfig(raw map[string]any) (WorldConfig, error) {
	for _, field := range RequiredFields {
		if _, ok := raw[field]; !ok {
			return WorldConfig{}, &FieldError{Field: field, Err: ErrMissingField}
		}
	}

	var cfg WorldConfig
	name, ok := raw[FieldWorldName].(string)
	if !ok {
		return WorldConfig{}, &FieldError{Field: FieldWorldName, Err: fmt.Errorf("want string, got %T: %w", raw[FieldWorldName], ErrInvalidValue)}
	}
	cfg.Name = name

	size, err := toFloat(raw[FieldTileRealSize])
	if err != nil {
		return WorldConfig{}, &FieldError{Field: FieldTileRealSize, Err: err}
	}
	cfg.TileRealSize = size

	ints := []struct {
		field string
		dst   *int
	}{
		{FieldWorldSizeX, &cfg.Width},
		{FieldWorldSizeY, &cfg.Height},
		{FieldWaterPercent, &cfg.WaterPercent},
		{FieldLandPercent, &cfg.LandPercent},
		{FieldLandSoil, &cfg.Soil},
		{FieldLandRock, &cfg.Rock},
		{FieldLandGrass, &cfg.Grass},
		{FieldLandTree, &cfg.Tree},
		{FieldLandHole, &cfg.Hole},
	}
	for _, f := range ints {
		v, err := toInt(raw[f.field])
		if err != nil {
			return WorldConfig{}, &FieldError{Field: f.field, Err: err}
		}
		*f.dst = v
	}

	if err := cfg.Validate(); err != nil {
		return WorldConfig{}, err
	}
	return cfg, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", n, ErrInvalidValue)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("want number, got %T: %w", v, ErrInvalidValue)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("%d too large: %w", n, ErrInvalidValue)
		}
		return int(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", n, ErrInvalidValue)
		}
		return toInt(f)
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("want integer, got %v: %w", n, ErrInvalidValue)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("want integer, got %T: %w", v, ErrInvalidValue)
	}
}
