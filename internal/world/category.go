// Package world provides the terrain grid, tile categories, world config and
// the percentage-driven tile classifier.
package world

import (
	"fmt"
	"strings"
)

// Category is the terrain label held by a single tile.
type Category uint8

const (
	CategorySoil  Category = iota // Bare soil
	CategoryRock                  // Exposed rock
	CategoryGrass                 // Grassland, also the allocator default
	CategoryTree                  // Wooded tile
	CategoryHole                  // Sinkhole or pit
	CategoryWater                 // Open water
)

// DefaultCategory is assigned to every tile at allocation time.
const DefaultCategory = CategoryGrass

var categoryIDs = [...]string{
	CategorySoil:  "landsoil",
	CategoryRock:  "landrock",
	CategoryGrass: "landgrass",
	CategoryTree:  "landtree",
	CategoryHole:  "landhole",
	CategoryWater: "water",
}

var categoryNames = [...]string{
	CategorySoil:  "soil",
	CategoryRock:  "rock",
	CategoryGrass: "grass",
	CategoryTree:  "tree",
	CategoryHole:  "hole",
	CategoryWater: "water",
}

// Categories returns the full category catalog in catalog order.
func Categories() []Category {
	return []Category{CategorySoil, CategoryRock, CategoryGrass, CategoryTree, CategoryHole, CategoryWater}
}

// LandCategories returns the land subcategories in classification order.
// The order decides which subcategory wins a contested tile.
func LandCategories() []Category {
	return []Category{CategorySoil, CategoryRock, CategoryGrass, CategoryTree, CategoryHole}
}

// Valid reports whether c is a member of the catalog.
func (c Category) Valid() bool {
	return int(c) < len(categoryIDs)
}

// IsLand reports whether c is one of the land subcategories.
func (c Category) IsLand() bool {
	return c.Valid() && c != CategoryWater
}

// ID returns the stored catalog identifier, e.g. "landsoil".
func (c Category) ID() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", c)
	}
	return categoryIDs[c]
}

// Name returns the short human-readable name, e.g. "soil".
func (c Category) Name() string {
	if !c.Valid() {
		return "unknown"
	}
	return categoryNames[c]
}

func (c Category) String() string {
	return c.ID()
}

// MarshalText encodes the category as its catalog identifier.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("marshal category %d: %w", c, ErrInvalidValue)
	}
	return []byte(c.ID()), nil
}

// UnmarshalText accepts a catalog identifier or a short name.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory resolves a catalog identifier ("landtree") or short name
// ("tree"), case-insensitively.
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i := range categoryIDs {
		if s == categoryIDs[i] || s == categoryNames[i] {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category %q: %w", s, ErrInvalidValue)
}
