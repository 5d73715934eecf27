// Package persistence provides SQL-backed world map storage.
// SQLite is the default backend; Postgres is available through pgx.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/gridplanet/internal/world"
)

// Supported backends.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps a SQL connection for world map persistence.
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open opens or creates the world store. driver is "sqlite" (dsn is a file
// path) or "postgres" (dsn is a connection URL). The schema is created if
// missing.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	sqlDriver, source, err := dataSource(driver, dsn)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(sqlDriver, source)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if sqlDriver == DriverSQLite {
		// One writer; keeps transactions from tripping over SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{conn: conn, driver: sqlDriver}
	if err := db.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func dataSource(driver, dsn string) (string, string, error) {
	switch strings.ToLower(driver) {
	case "", DriverSQLite, "sqlite3":
		if dsn == "" {
			dsn = "worldmap.db"
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return DriverSQLite, dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)", nil
	case DriverPostgres, "pgx":
		if dsn == "" {
			dsn = "postgres://localhost/gridplanet?sslmode=disable"
		}
		return "pgx", dsn, nil
	default:
		return "", "", fmt.Errorf("unknown db driver %q", driver)
	}
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Driver returns the underlying database/sql driver name.
func (db *DB) Driver() string {
	return db.driver
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tile_types (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS map_runs (
		id TEXT PRIMARY KEY,
		world_name TEXT NOT NULL,
		world_size_x INTEGER NOT NULL,
		world_size_y INTEGER NOT NULL,
		tile_real_size DOUBLE PRECISION NOT NULL,
		seed BIGINT NOT NULL,
		generated_at TEXT NOT NULL,
		gen_config TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS map_tiles (
		tile_id TEXT PRIMARY KEY,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		tile_type TEXT NOT NULL REFERENCES tile_types(id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_map_tiles_xy ON map_tiles(x, y)`,
	`CREATE INDEX IF NOT EXISTS idx_map_tiles_type ON map_tiles(tile_type)`,
	`CREATE INDEX IF NOT EXISTS idx_map_runs_generated ON map_runs(generated_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// SeedCategoryCatalog inserts the tile type catalog. Existing ids are left
// untouched, so seeding is idempotent.
func (db *DB) SeedCategoryCatalog(ctx context.Context, categories []world.Category) error {
	q := db.conn.Rebind(`INSERT INTO tile_types (id, type) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`)
	for _, c := range categories {
		if _, err := db.conn.ExecContext(ctx, q, c.ID(), c.Name()); err != nil {
			return fmt.Errorf("insert tile type %s: %w", c, err)
		}
	}
	return nil
}

type runRow struct {
	ID           string  `db:"id"`
	WorldName    string  `db:"world_name"`
	WorldSizeX   int     `db:"world_size_x"`
	WorldSizeY   int     `db:"world_size_y"`
	TileRealSize float64 `db:"tile_real_size"`
	Seed         int64   `db:"seed"`
	GeneratedAt  string  `db:"generated_at"`
	GenConfig    string  `db:"gen_config"`
}

func (r runRow) toRun() (world.Run, error) {
	at, err := time.Parse(timeLayout, r.GeneratedAt)
	if err != nil {
		return world.Run{}, fmt.Errorf("parse generated_at of run %s: %w", r.ID, err)
	}
	var cfg world.WorldConfig
	if err := json.Unmarshal([]byte(r.GenConfig), &cfg); err != nil {
		return world.Run{}, fmt.Errorf("decode gen_config of run %s: %w", r.ID, err)
	}
	return world.Run{
		ID:           r.ID,
		WorldName:    r.WorldName,
		Width:        r.WorldSizeX,
		Height:       r.WorldSizeY,
		TileRealSize: r.TileRealSize,
		Seed:         r.Seed,
		GeneratedAt:  at,
		Config:       cfg,
	}, nil
}

type tileRow struct {
	TileID   string `db:"tile_id"`
	X        int    `db:"x"`
	Y        int    `db:"y"`
	TileType string `db:"tile_type"`
}

// InsertRun appends a generation run record.
func (db *DB) InsertRun(ctx context.Context, run world.Run) error {
	return insertRun(ctx, db.conn, run)
}

func insertRun(ctx context.Context, ext sqlx.ExtContext, run world.Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("encode gen_config: %w", err)
	}
	_, err = ext.ExecContext(ctx, ext.Rebind(`INSERT INTO map_runs
		(id, world_name, world_size_x, world_size_y, tile_real_size, seed, generated_at, gen_config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.WorldName, run.Width, run.Height, run.TileRealSize,
		run.Seed, run.GeneratedAt.UTC().Format(timeLayout), string(cfgJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// BulkUpsertCells writes cells in one transaction, replacing the category of
// any tile id that already exists.
func (db *DB) BulkUpsertCells(ctx context.Context, cells []world.Cell) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := bulkUpsertCells(ctx, tx, cells); err != nil {
		return err
	}
	return tx.Commit()
}

func bulkUpsertCells(ctx context.Context, tx *sqlx.Tx, cells []world.Cell) error {
	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO map_tiles (tile_id, x, y, tile_type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tile_id) DO UPDATE SET tile_type = excluded.tile_type`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range cells {
		if _, err := stmt.ExecContext(ctx, c.ID(), c.X, c.Y, c.Category.ID()); err != nil {
			return fmt.Errorf("upsert tile %s: %w", c.ID(), err)
		}
	}
	return nil
}

// SaveGeneration records a run and its full grid atomically. If tiles are
// already stored the save is refused with world.ErrWorldExists, unless
// replace is set, in which case the old tiles are deleted first. Either the
// whole run is committed or nothing is.
func (db *DB) SaveGeneration(ctx context.Context, run world.Run, cells []world.Cell, replace bool) error {
	slog.Info("saving world map", "run", run.ID, "tiles", len(cells), "replace", replace)

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing int
	if err := tx.GetContext(ctx, &existing, "SELECT COUNT(*) FROM map_tiles"); err != nil {
		return fmt.Errorf("count tiles: %w", err)
	}
	if existing > 0 {
		if !replace {
			return fmt.Errorf("%d tiles already stored: %w", existing, world.ErrWorldExists)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM map_tiles"); err != nil {
			return fmt.Errorf("clear tiles: %w", err)
		}
	}

	if err := insertRun(ctx, tx, run); err != nil {
		return err
	}
	if err := bulkUpsertCells(ctx, tx, cells); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	slog.Info("world map saved", "run", run.ID)
	return nil
}

// UpdateCellCategory changes the category of one stored tile.
func (db *DB) UpdateCellCategory(ctx context.Context, id string, c world.Category) error {
	res, err := db.conn.ExecContext(ctx,
		db.conn.Rebind("UPDATE map_tiles SET tile_type = ? WHERE tile_id = ?"),
		c.ID(), id,
	)
	if err != nil {
		return fmt.Errorf("update tile %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tile %s: %w", id, world.ErrNotFound)
	}
	return nil
}

// CellCategory returns the stored category at (x, y).
func (db *DB) CellCategory(ctx context.Context, x, y int) (world.Category, error) {
	var id string
	err := db.conn.GetContext(ctx, &id,
		db.conn.Rebind("SELECT tile_type FROM map_tiles WHERE x = ? AND y = ?"), x, y)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("tile (%d, %d): %w", x, y, world.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("select tile (%d, %d): %w", x, y, err)
	}
	return world.ParseCategory(id)
}

// CountCells returns the number of stored tiles.
func (db *DB) CountCells(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM map_tiles"); err != nil {
		return 0, fmt.Errorf("count tiles: %w", err)
	}
	return n, nil
}

// CountCellsByCategory returns the number of stored tiles of category c.
func (db *DB) CountCellsByCategory(ctx context.Context, c world.Category) (int, error) {
	var n int
	err := db.conn.GetContext(ctx, &n,
		db.conn.Rebind("SELECT COUNT(*) FROM map_tiles WHERE tile_type = ?"), c.ID())
	if err != nil {
		return 0, fmt.Errorf("count %s tiles: %w", c, err)
	}
	return n, nil
}

// HasWorld returns true if any tiles are stored.
func (db *DB) HasWorld(ctx context.Context) bool {
	n, err := db.CountCells(ctx)
	return err == nil && n > 0
}

// Cells returns every stored tile, row-major.
func (db *DB) Cells(ctx context.Context) ([]world.Cell, error) {
	return selectCells(ctx, db.conn)
}

func selectCells(ctx context.Context, q sqlx.ExtContext) ([]world.Cell, error) {
	var rows []tileRow
	if err := sqlx.SelectContext(ctx, q, &rows,
		"SELECT tile_id, x, y, tile_type FROM map_tiles ORDER BY y, x"); err != nil {
		return nil, fmt.Errorf("select tiles: %w", err)
	}
	cells := make([]world.Cell, 0, len(rows))
	for _, r := range rows {
		c, err := world.ParseCategory(r.TileType)
		if err != nil {
			return nil, fmt.Errorf("tile %s: %w", r.TileID, err)
		}
		cells = append(cells, world.Cell{X: r.X, Y: r.Y, Category: c})
	}
	return cells, nil
}

// LatestRun returns the most recent generation run.
func (db *DB) LatestRun(ctx context.Context) (world.Run, error) {
	runs, err := db.Runs(ctx, 1)
	if err != nil {
		return world.Run{}, err
	}
	if len(runs) == 0 {
		return world.Run{}, fmt.Errorf("latest run: %w", world.ErrNotFound)
	}
	return runs[0], nil
}

// Runs returns up to limit generation runs, newest first. limit <= 0 returns all.
func (db *DB) Runs(ctx context.Context, limit int) ([]world.Run, error) {
	return selectRuns(ctx, db.conn, limit)
}

func selectRuns(ctx context.Context, q sqlx.ExtContext, limit int) ([]world.Run, error) {
	query := `SELECT id, world_name, world_size_x, world_size_y, tile_real_size, seed, generated_at, gen_config
		FROM map_runs ORDER BY generated_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []runRow
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	runs := make([]world.Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// LoadSnapshot reads the latest run and every stored tile from one
// consistent view, so a concurrent replace cannot pair one run's metadata
// with another run's tiles. The run is nil when none is recorded.
func (db *DB) LoadSnapshot(ctx context.Context) (*world.Run, []world.Cell, error) {
	var opts *sql.TxOptions
	if db.driver != DriverSQLite {
		// SQLite transactions are already serializable; Postgres defaults
		// to a fresh snapshot per statement.
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := db.conn.BeginTxx(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	runs, err := selectRuns(ctx, tx, 1)
	if err != nil {
		return nil, nil, err
	}
	cells, err := selectCells(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit snapshot: %w", err)
	}

	if len(runs) == 0 {
		return nil, cells, nil
	}
	return &runs[0], cells, nil
}
