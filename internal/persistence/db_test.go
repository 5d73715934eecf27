package persistence

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/talgya/gridplanet/internal/world"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "world.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.SeedCategoryCatalog(context.Background(), world.Categories()); err != nil {
		t.Fatalf("SeedCategoryCatalog: %v", err)
	}
	return db
}

func testGrid(t *testing.T, w, h int) []world.Cell {
	t.Helper()
	g, err := world.Allocate(w, h)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	g.At(0, 0).Category = world.CategoryWater
	g.At(1, 0).Category = world.CategoryRock
	return g.Cells
}

func testRun(id string, at time.Time) world.Run {
	cfg := world.SmallTestConfig()
	cfg.Width, cfg.Height = 3, 2
	return world.NewRun(id, cfg, 42, at)
}

func TestSaveGenerationAndQuery(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if db.HasWorld(ctx) {
		t.Fatalf("fresh store should have no world")
	}
	run := testRun("run-1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if err := db.SaveGeneration(ctx, run, testGrid(t, 3, 2), false); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	if !db.HasWorld(ctx) {
		t.Fatalf("expected world after save")
	}

	cat, err := db.CellCategory(ctx, 0, 0)
	if err != nil || cat != world.CategoryWater {
		t.Fatalf("CellCategory(0,0) = %v, %v", cat, err)
	}
	cat, err = db.CellCategory(ctx, 2, 1)
	if err != nil || cat != world.CategoryGrass {
		t.Fatalf("CellCategory(2,1) = %v, %v", cat, err)
	}
	if _, err := db.CellCategory(ctx, 100, 100); !errors.Is(err, world.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	total, err := db.CountCells(ctx)
	if err != nil || total != 6 {
		t.Fatalf("CountCells = %d, %v", total, err)
	}
	grass, err := db.CountCellsByCategory(ctx, world.CategoryGrass)
	if err != nil || grass != 4 {
		t.Fatalf("CountCellsByCategory(grass) = %d, %v", grass, err)
	}

	latest, err := db.LatestRun(ctx)
	if err != nil {
		t.Fatalf("LatestRun: %v", err)
	}
	if latest.ID != "run-1" || latest.Seed != 42 || !latest.GeneratedAt.Equal(run.GeneratedAt) {
		t.Fatalf("unexpected run %+v", latest)
	}
	if latest.Config != run.Config {
		t.Fatalf("config snapshot mismatch: %+v vs %+v", latest.Config, run.Config)
	}

	cells, err := db.Cells(ctx)
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	if len(cells) != 6 || cells[0] != (world.Cell{X: 0, Y: 0, Category: world.CategoryWater}) || cells[3].ID() != "0-1" {
		t.Fatalf("unexpected cells %v", cells)
	}
}

func TestSaveGenerationRejectsExistingWorld(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Now()

	if err := db.SaveGeneration(ctx, testRun("first", now), testGrid(t, 3, 2), false); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	err := db.SaveGeneration(ctx, testRun("second", now.Add(time.Second)), testGrid(t, 3, 2), false)
	if !errors.Is(err, world.ErrWorldExists) {
		t.Fatalf("expected ErrWorldExists, got %v", err)
	}
	runs, err := db.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("rejected run must not be recorded, got %d runs", len(runs))
	}
}

func TestSaveGenerationReplaceKeepsHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Now()

	if err := db.SaveGeneration(ctx, testRun("first", now), testGrid(t, 3, 2), false); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	smaller, err := world.Allocate(2, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := db.SaveGeneration(ctx, testRun("second", now.Add(time.Minute)), smaller.Cells, true); err != nil {
		t.Fatalf("SaveGeneration(replace): %v", err)
	}

	total, err := db.CountCells(ctx)
	if err != nil || total != 2 {
		t.Fatalf("expected only the new grid, got %d tiles (%v)", total, err)
	}
	runs, err := db.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "second" || runs[1].ID != "first" {
		t.Fatalf("expected both runs newest first, got %+v", runs)
	}
	limited, err := db.Runs(ctx, 1)
	if err != nil || len(limited) != 1 || limited[0].ID != "second" {
		t.Fatalf("Runs(1) = %+v, %v", limited, err)
	}
}

func TestSaveGenerationRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	cells := testGrid(t, 3, 2)
	// Not in the catalog: violates the tile_types foreign key mid-write.
	cells[5].Category = world.Category(99)
	if err := db.SaveGeneration(ctx, testRun("broken", time.Now()), cells, false); err == nil {
		t.Fatalf("expected failure for unknown category")
	}

	if db.HasWorld(ctx) {
		t.Fatalf("partial grid visible after failed save")
	}
	if _, err := db.LatestRun(ctx); !errors.Is(err, world.ErrNotFound) {
		t.Fatalf("failed run must not be recorded, got %v", err)
	}
}

func TestSeedCategoryCatalogIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if err := db.SeedCategoryCatalog(ctx, world.Categories()); err != nil {
		t.Fatalf("second seed: %v", err)
	}
	var n int
	if err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM tile_types"); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 6 {
		t.Fatalf("expected 6 tile types, got %d", n)
	}
	var kind string
	if err := db.conn.GetContext(ctx, &kind, "SELECT type FROM tile_types WHERE id = 'landtree'"); err != nil || kind != "tree" {
		t.Fatalf("landtree type = %q, %v", kind, err)
	}
}

func TestUpdateCellCategory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	if err := db.BulkUpsertCells(ctx, testGrid(t, 3, 2)); err != nil {
		t.Fatalf("BulkUpsertCells: %v", err)
	}
	if err := db.UpdateCellCategory(ctx, "2-1", world.CategoryHole); err != nil {
		t.Fatalf("UpdateCellCategory: %v", err)
	}
	if cat, err := db.CellCategory(ctx, 2, 1); err != nil || cat != world.CategoryHole {
		t.Fatalf("CellCategory(2,1) = %v, %v", cat, err)
	}
	if err := db.UpdateCellCategory(ctx, "9-9", world.CategoryHole); !errors.Is(err, world.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBulkUpsertCellsOverwritesCategory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cells := testGrid(t, 3, 2)
	if err := db.BulkUpsertCells(ctx, cells); err != nil {
		t.Fatalf("BulkUpsertCells: %v", err)
	}
	cells[0].Category = world.CategoryTree
	if err := db.BulkUpsertCells(ctx, cells[:1]); err != nil {
		t.Fatalf("BulkUpsertCells: %v", err)
	}
	if cat, err := db.CellCategory(ctx, 0, 0); err != nil || cat != world.CategoryTree {
		t.Fatalf("CellCategory(0,0) = %v, %v", cat, err)
	}
	if n, _ := db.CountCells(ctx); n != 6 {
		t.Fatalf("upsert must not duplicate tiles, got %d", n)
	}
}

func TestLoadSnapshot(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	run, cells, err := db.LoadSnapshot(ctx)
	if err != nil || run != nil || len(cells) != 0 {
		t.Fatalf("empty LoadSnapshot = %v, %v, %v", run, cells, err)
	}

	now := time.Now()
	if err := db.SaveGeneration(ctx, testRun("first", now), testGrid(t, 3, 2), false); err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	replacement, err := world.Allocate(2, 2)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := db.SaveGeneration(ctx, testRun("second", now.Add(time.Second)), replacement.Cells, true); err != nil {
		t.Fatalf("SaveGeneration(replace): %v", err)
	}

	run, cells, err = db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if run == nil || run.ID != "second" || len(cells) != 4 {
		t.Fatalf("snapshot pairs run %v with %d tiles", run, len(cells))
	}
}

func TestDataSource(t *testing.T) {
	driver, dsn, err := dataSource("", "")
	if err != nil || driver != DriverSQLite || !strings.HasPrefix(dsn, "worldmap.db?") {
		t.Fatalf("default sqlite source = %q %q %v", driver, dsn, err)
	}
	driver, dsn, err = dataSource("postgres", "postgres://db/maps")
	if err != nil || driver != "pgx" || dsn != "postgres://db/maps" {
		t.Fatalf("postgres source = %q %q %v", driver, dsn, err)
	}
	if _, _, err := dataSource("mysql", "x"); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
