package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/gridplanet/internal/world"
)

// Stats aggregates the stored map.
type Stats struct {
	Total      int                    `json:"total"`
	Water      int                    `json:"water"`
	Land       int                    `json:"land"`
	ByCategory map[world.Category]int `json:"by_category"`
}

// TileAt returns the stored category of the tile at (x, y).
func (e *Engine) TileAt(ctx context.Context, x, y int) (world.Category, error) {
	c, err := e.store.CellCategory(ctx, x, y)
	if err != nil {
		if errors.Is(err, world.ErrNotFound) {
			return 0, fmt.Errorf("tile (%d, %d): %w", x, y, world.ErrNotFound)
		}
		return 0, storageErr("query tile", err)
	}
	return c, nil
}

// WorldStats counts stored tiles: total, water, land (total minus water) and
// each land subcategory.
func (e *Engine) WorldStats(ctx context.Context) (Stats, error) {
	total, err := e.store.CountCells(ctx)
	if err != nil {
		return Stats{}, storageErr("count tiles", err)
	}
	st := Stats{Total: total, ByCategory: make(map[world.Category]int, len(world.Categories()))}
	for _, c := range world.Categories() {
		n, err := e.store.CountCellsByCategory(ctx, c)
		if err != nil {
			return Stats{}, storageErr("count "+c.Name(), err)
		}
		st.ByCategory[c] = n
	}
	st.Water = st.ByCategory[world.CategoryWater]
	st.Land = st.Total - st.Water
	e.metrics.setTiles(st.ByCategory)
	return st, nil
}

// Runs returns up to limit generation runs, newest first. limit <= 0 returns
// the full history.
func (e *Engine) Runs(ctx context.Context, limit int) ([]world.Run, error) {
	runs, err := e.store.Runs(ctx, limit)
	if err != nil {
		return nil, storageErr("list runs", err)
	}
	return runs, nil
}

// SetTile overrides the stored category of one tile.
func (e *Engine) SetTile(ctx context.Context, x, y int, c world.Category) error {
	if !c.Valid() {
		return fmt.Errorf("category %d: %w", c, world.ErrInvalidValue)
	}
	if err := e.store.UpdateCellCategory(ctx, world.CellID(x, y), c); err != nil {
		if errors.Is(err, world.ErrNotFound) {
			return fmt.Errorf("tile (%d, %d): %w", x, y, world.ErrNotFound)
		}
		return storageErr("update tile", err)
	}
	slog.Info("tile updated", "x", x, "y", y, "category", c.Name())
	return nil
}
