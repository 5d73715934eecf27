package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/talgya/gridplanet/internal/blob"
	"github.com/talgya/gridplanet/internal/world"
)

// DefaultDumpKey is the blob key a dump is written to when none is given.
const DefaultDumpKey = "worldmap.json"

// Snapshot is the exported form of the stored map: the latest run record and
// every tile.
type Snapshot struct {
	Metadata *world.Run   `json:"metadata"`
	Map      []TileRecord `json:"map"`
}

// TileRecord is one tile in a snapshot.
type TileRecord struct {
	X        int            `json:"x"`
	Y        int            `json:"y"`
	TileID   string         `json:"tileid"`
	TileType world.Category `json:"tiletype"`
}

// Cells converts the snapshot back into grid cells.
func (s Snapshot) Cells() []world.Cell {
	cells := make([]world.Cell, len(s.Map))
	for i, t := range s.Map {
		cells[i] = world.Cell{X: t.X, Y: t.Y, Category: t.TileType}
	}
	return cells
}

// Snapshot reads the latest run and all stored tiles in one store read. It
// fails with world.ErrNotFound when nothing has been generated.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	run, cells, err := e.store.LoadSnapshot(ctx)
	if err != nil {
		return Snapshot{}, storageErr("load snapshot", err)
	}
	if run == nil && len(cells) == 0 {
		return Snapshot{}, fmt.Errorf("snapshot: no world generated: %w", world.ErrNotFound)
	}

	snap := Snapshot{Metadata: run, Map: make([]TileRecord, len(cells))}
	for i, c := range cells {
		snap.Map[i] = TileRecord{X: c.X, Y: c.Y, TileID: c.ID(), TileType: c.Category}
	}
	return snap, nil
}

// WriteSnapshot encodes s as indented JSON.
func WriteSnapshot(w io.Writer, s Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot. Tile ids must
// agree with their coordinates.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	for _, t := range s.Map {
		if t.TileID != world.CellID(t.X, t.Y) {
			return Snapshot{}, fmt.Errorf("tile %q at (%d, %d): %w", t.TileID, t.X, t.Y, world.ErrInvalidValue)
		}
	}
	return s, nil
}

// Dump writes the current snapshot to store under key, replacing whatever was
// there. An empty key means DefaultDumpKey.
func (e *Engine) Dump(ctx context.Context, store blob.Store, key string) (blob.Info, error) {
	if key == "" {
		key = DefaultDumpKey
	}
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return blob.Info{}, err
	}

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, snap); err != nil {
		return blob.Info{}, err
	}
	opts := blob.PutOptions{ContentType: "application/json"}
	if snap.Metadata != nil {
		opts.Metadata = map[string]string{"run-id": snap.Metadata.ID}
	}
	info, err := store.Put(ctx, key, bytes.NewReader(buf.Bytes()), opts)
	if err != nil {
		return blob.Info{}, fmt.Errorf("put dump: %w", err)
	}
	slog.Info("world map dumped", "driver", store.Driver(), "location", info.Location, "tiles", len(snap.Map), "bytes", info.Size)
	return info, nil
}
