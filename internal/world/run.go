package world

import "time"

// Run is the metadata record of one generation. Runs are appended, never
// overwritten, so the store keeps the full generation history.
type Run struct {
	ID           string      `json:"id"`
	WorldName    string      `json:"world_name"`
	Width        int         `json:"world_size_x"`
	Height       int         `json:"world_size_y"`
	TileRealSize float64     `json:"tile_real_size"`
	Seed         int64       `json:"seed"`
	GeneratedAt  time.Time   `json:"generated_at"`
	Config       WorldConfig `json:"gen_config"`
}

// NewRun builds the run record for cfg.
func NewRun(id string, cfg WorldConfig, seed int64, at time.Time) Run {
	return Run{
		ID:           id,
		WorldName:    cfg.Name,
		Width:        cfg.Width,
		Height:       cfg.Height,
		TileRealSize: cfg.TileRealSize,
		Seed:         seed,
		GeneratedAt:  at.UTC(),
		Config:       cfg,
	}
}
