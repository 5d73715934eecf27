// Package engine runs map generations against a world store and answers
// queries about the stored map.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/gridplanet/internal/entropy"
	"github.com/talgya/gridplanet/internal/persistence"
	"github.com/talgya/gridplanet/internal/world"
)

// ErrStorageUnavailable wraps every failure reported by the world store.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Store is the world storage the engine reads and writes.
type Store interface {
	EnsureSchema(ctx context.Context) error
	SeedCategoryCatalog(ctx context.Context, categories []world.Category) error
	SaveGeneration(ctx context.Context, run world.Run, cells []world.Cell, replace bool) error
	UpdateCellCategory(ctx context.Context, id string, c world.Category) error
	CellCategory(ctx context.Context, x, y int) (world.Category, error)
	CountCells(ctx context.Context) (int, error)
	CountCellsByCategory(ctx context.Context, c world.Category) (int, error)
	LatestRun(ctx context.Context) (world.Run, error)
	Runs(ctx context.Context, limit int) ([]world.Run, error)
	Cells(ctx context.Context) ([]world.Cell, error)
	LoadSnapshot(ctx context.Context) (*world.Run, []world.Cell, error)
}

var _ Store = (*persistence.DB)(nil)

// Engine generates maps into a Store and serves queries from it.
type Engine struct {
	store   Store
	seed    *int64
	seeds   *entropy.Client
	metrics *Metrics
	now     func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSeed fixes the seed used when a generation does not name its own.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = &seed }
}

// WithSeedClient draws seeds from random.org when no fixed seed is set.
func WithSeedClient(c *entropy.Client) Option {
	return func(e *Engine) { e.seeds = c }
}

// WithMetrics records generation outcomes and tile counts on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the time source stamped on generation runs.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateOptions controls a single generation.
type GenerateOptions struct {
	Replace bool   // Overwrite an existing map instead of refusing
	Seed    *int64 // Nil means use the engine's seed source; zero is a valid seed
}

// Report describes a completed generation.
type Report struct {
	Run     world.Run     `json:"run"`
	Summary world.Summary `json:"summary"`
}

// Generate validates cfg, classifies a fresh grid in memory and persists it
// with its run record in one store transaction. Nothing is written when
// validation or classification fails. An existing map is reported as
// world.ErrWorldExists unless opts.Replace is set.
func (e *Engine) Generate(ctx context.Context, cfg world.WorldConfig, opts GenerateOptions) (Report, error) {
	start := time.Now()

	if err := cfg.Validate(); err != nil {
		e.metrics.observeRun(resultError, 0)
		return Report{}, fmt.Errorf("validate config: %w", err)
	}

	seed := e.pickSeed(ctx, opts.Seed)
	slog.Info("generating world map",
		"world", cfg.Name, "width", cfg.Width, "height", cfg.Height, "seed", seed)

	grid, err := world.Allocate(cfg.Width, cfg.Height)
	if err != nil {
		e.metrics.observeRun(resultError, 0)
		return Report{}, fmt.Errorf("allocate grid: %w", err)
	}
	summary, err := world.Classify(grid, cfg, entropy.NewRand(seed))
	if err != nil {
		e.metrics.observeRun(resultError, 0)
		return Report{}, fmt.Errorf("classify tiles: %w", err)
	}
	for _, c := range world.Categories() {
		slog.Info("terrain", "category", c.Name(), "tiles", summary.Counts[c])
	}

	if err := e.store.EnsureSchema(ctx); err != nil {
		e.metrics.observeRun(resultError, 0)
		return Report{}, storageErr("ensure schema", err)
	}
	if err := e.store.SeedCategoryCatalog(ctx, world.Categories()); err != nil {
		e.metrics.observeRun(resultError, 0)
		return Report{}, storageErr("seed catalog", err)
	}

	run := world.NewRun(e.newID(), cfg, seed, e.now())
	if err := e.store.SaveGeneration(ctx, run, grid.Cells, opts.Replace); err != nil {
		if errors.Is(err, world.ErrWorldExists) {
			e.metrics.observeRun(resultRejected, 0)
			return Report{}, err
		}
		e.metrics.observeRun(resultError, 0)
		return Report{}, storageErr("save generation", err)
	}

	e.metrics.observeRun(resultSuccess, time.Since(start))
	e.metrics.setTiles(summary.Counts)
	slog.Info("world map generated", "run", run.ID, "tiles", summary.Total, "elapsed", time.Since(start))
	return Report{Run: run, Summary: summary}, nil
}

func (e *Engine) pickSeed(ctx context.Context, requested *int64) int64 {
	switch {
	case requested != nil:
		return *requested
	case e.seed != nil:
		return *e.seed
	default:
		return entropy.SeedFromSource(ctx, e.seeds)
	}
}

// storageErr tags a store failure so callers can tell it apart from bad
// input, keeping the driver error inspectable.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
