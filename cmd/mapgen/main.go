// Command mapgen generates a percentage-driven grid world map into a SQL store
// and answers queries about it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/talgya/gridplanet/internal/api"
	"github.com/talgya/gridplanet/internal/blob"
	"github.com/talgya/gridplanet/internal/config"
	"github.com/talgya/gridplanet/internal/engine"
	"github.com/talgya/gridplanet/internal/entropy"
	"github.com/talgya/gridplanet/internal/persistence"
	"github.com/talgya/gridplanet/internal/world"
)

const usage = `usage: mapgen <command> [arguments]

commands:
  generate [-replace] [-seed N]   generate the map described by the config file
  validate                        check the config file without generating
  qtile X Y                       print the tile type at (X, Y)
  qworld                          print tile counts for the stored map
  dump [-key K]                   export the stored map as a JSON snapshot
  runs [-n N]                     list generation runs, newest first
  settile X Y TYPE                override the type of one stored tile
  serve                           serve the HTTP query API
  help                            show this message

environment:
  MAPGEN_CONFIG        config file (default MapGen.config; .yaml/.yml also accepted)
  MAPGEN_DB_DRIVER     sqlite or postgres (default sqlite)
  MAPGEN_DB            sqlite path or postgres URL (default worldmap.db)
  MAPGEN_DUMP_DRIVER   fs or s3 (default fs)
  MAPGEN_SEED          fixed generation seed (unset = random; 0 is a valid seed)
  MAPGEN_PUSHGATEWAY   Prometheus Pushgateway URL for generate metrics
  MAPGEN_LOG_LEVEL     debug, info, warn or error
`

func main() {
	settings := config.FromEnv()
	setupLogging(settings.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, os.Args[1:], os.Stdout); err != nil {
		slog.Error("mapgen failed", "args", os.Args[1:], "error", err)
		stop()
		os.Exit(1)
	}
}

// setupLogging logs text to a terminal and JSON everywhere else.
func setupLogging(level slog.Level) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, s config.Settings, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return nil
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "generate":
		return cmdGenerate(ctx, s, rest, out)
	case "validate":
		return cmdValidate(s, out)
	case "qtile":
		return cmdQueryTile(ctx, s, rest, out)
	case "qworld":
		return cmdQueryWorld(ctx, s, out)
	case "dump":
		return cmdDump(ctx, s, rest, out)
	case "runs":
		return cmdRuns(ctx, s, rest, out)
	case "settile":
		return cmdSetTile(ctx, s, rest, out)
	case "serve":
		return cmdServe(ctx, s)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q (run mapgen help)", cmd)
	}
}

// openEngine opens the configured store. The returned func closes it.
func openEngine(ctx context.Context, s config.Settings, opts ...engine.Option) (*engine.Engine, func(), error) {
	db, err := persistence.Open(ctx, s.DBDriver, s.DBDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", engine.ErrStorageUnavailable, err)
	}
	slog.Debug("store opened", "driver", db.Driver())

	base := []engine.Option{engine.WithSeedClient(entropy.NewClient(s.RandomOrgKey))}
	if s.Seed != nil {
		base = append(base, engine.WithSeed(*s.Seed))
	}
	eng := engine.New(db, append(base, opts...)...)
	return eng, func() { _ = db.Close() }, nil
}

func loadWorldConfig(path string) (world.WorldConfig, error) {
	raw, err := config.LoadRaw(path)
	if err != nil {
		return world.WorldConfig{}, err
	}
	cfg, err := world.ParseConfig(raw)
	if err != nil {
		return world.WorldConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func cmdGenerate(ctx context.Context, s config.Settings, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	replace := fs.Bool("replace", false, "overwrite an existing map")
	seed := fs.Int64("seed", 0, "generation seed, overrides MAPGEN_SEED (omit for random)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts := engine.GenerateOptions{Replace: *replace}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.Seed = seed
		}
	})

	cfg, err := loadWorldConfig(s.ConfigPath)
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	eng, closeFn, err := openEngine(ctx, s, engine.WithMetrics(engine.NewMetrics(reg, s.MetricsPrefix)))
	if err != nil {
		return err
	}
	defer closeFn()

	rep, err := eng.Generate(ctx, cfg, opts)
	if s.PushGateway != "" {
		if perr := pushMetrics(ctx, s.PushGateway, reg); perr != nil {
			slog.Warn("push metrics failed", "gateway", s.PushGateway, "error", perr)
		}
	}
	if errors.Is(err, world.ErrWorldExists) {
		return fmt.Errorf("%w (use generate -replace to overwrite)", err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "generated %q: %s tiles, seed %d, run %s\n",
		rep.Run.WorldName, humanize.Comma(int64(rep.Summary.Total)), rep.Run.Seed, rep.Run.ID)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "type\ttarget\ttiles")
	fmt.Fprintf(tw, "%s\t%s\t%s\n", world.CategoryWater.Name(),
		humanize.Comma(int64(rep.Summary.WaterTarget)), humanize.Comma(int64(rep.Summary.Counts[world.CategoryWater])))
	for _, c := range world.LandCategories() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name(),
			humanize.Comma(int64(rep.Summary.Targets[c])), humanize.Comma(int64(rep.Summary.Counts[c])))
	}
	return tw.Flush()
}

// pushMetrics sends the generate run's collectors to a Pushgateway. A CLI
// process exits before any scrape could reach it.
func pushMetrics(ctx context.Context, gateway string, g prometheus.Gatherer) error {
	return push.New(gateway, "mapgen").Gatherer(g).PushContext(ctx)
}

func cmdValidate(s config.Settings, out io.Writer) error {
	cfg, err := loadWorldConfig(s.ConfigPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: ok (%q, %dx%d, %s tiles)\n",
		s.ConfigPath, cfg.Name, cfg.Width, cfg.Height, humanize.Comma(int64(cfg.TotalTiles())))
	return nil
}

func parseXY(args []string) (int, int, error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("expected X Y: %w", world.ErrInvalidValue)
	}
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("x %q: %w", args[0], world.ErrInvalidValue)
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("y %q: %w", args[1], world.ErrInvalidValue)
	}
	return x, y, nil
}

func cmdQueryTile(ctx context.Context, s config.Settings, args []string, out io.Writer) error {
	x, y, err := parseXY(args)
	if err != nil {
		return err
	}
	eng, closeFn, err := openEngine(ctx, s)
	if err != nil {
		return err
	}
	defer closeFn()

	c, err := eng.TileAt(ctx, x, y)
	if errors.Is(err, world.ErrNotFound) {
		fmt.Fprintf(out, "no tile at (%d, %d)\n", x, y)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, c.ID())
	return nil
}

func cmdQueryWorld(ctx context.Context, s config.Settings, out io.Writer) error {
	eng, closeFn, err := openEngine(ctx, s)
	if err != nil {
		return err
	}
	defer closeFn()

	st, err := eng.WorldStats(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%s\n", humanize.Comma(int64(st.Total)))
	fmt.Fprintf(tw, "water\t%s\n", humanize.Comma(int64(st.Water)))
	fmt.Fprintf(tw, "land\t%s\n", humanize.Comma(int64(st.Land)))
	for _, c := range world.LandCategories() {
		fmt.Fprintf(tw, "  %s\t%s\n", c.Name(), humanize.Comma(int64(st.ByCategory[c])))
	}
	return tw.Flush()
}

func cmdDump(ctx context.Context, s config.Settings, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dump", flag.ContinueOnError)
	key := fs.String("key", s.DumpKey, "snapshot object key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sink, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(s.DumpDriver),
		Dir:    s.DumpDir,
		S3: blob.S3Config{
			Region:          s.S3Region,
			Bucket:          s.S3Bucket,
			Endpoint:        s.S3Endpoint,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			PathStyle:       s.S3PathStyle,
		},
	})
	if err != nil {
		return fmt.Errorf("open dump sink: %w", err)
	}
	eng, closeFn, err := openEngine(ctx, s)
	if err != nil {
		return err
	}
	defer closeFn()

	info, err := eng.Dump(ctx, sink, *key)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%s)\n", info.Location, humanize.Bytes(uint64(info.Size)))
	return nil
}

func cmdRuns(ctx context.Context, s config.Settings, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	n := fs.Int("n", 10, "number of runs to list (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	eng, closeFn, err := openEngine(ctx, s)
	if err != nil {
		return err
	}
	defer closeFn()

	runs, err := eng.Runs(ctx, *n)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "run\tworld\tsize\tseed\tgenerated")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%d\t%s\n",
			r.ID, r.WorldName, r.Width, r.Height, r.Seed, humanize.Time(r.GeneratedAt))
	}
	return tw.Flush()
}

func cmdSetTile(ctx context.Context, s config.Settings, args []string, out io.Writer) error {
	x, y, err := parseXY(args)
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return fmt.Errorf("expected X Y TYPE: %w", world.ErrInvalidValue)
	}
	c, err := world.ParseCategory(args[2])
	if err != nil {
		return err
	}
	eng, closeFn, err := openEngine(ctx, s)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := eng.SetTile(ctx, x, y, c); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s = %s\n", world.CellID(x, y), c.ID())
	return nil
}

func cmdServe(ctx context.Context, s config.Settings) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, closeFn, err := openEngine(ctx, s, engine.WithMetrics(engine.NewMetrics(reg, s.MetricsPrefix)))
	if err != nil {
		return err
	}
	defer closeFn()

	// Prime the tile gauges from whatever is already stored.
	if _, err := eng.WorldStats(ctx); err != nil {
		slog.Warn("initial world stats failed", "error", err)
	}

	srv := &api.Server{Eng: eng, Addr: s.Addr, CORSOrigins: s.CORSOrigins, Gatherer: reg}
	return srv.Run(ctx)
}
