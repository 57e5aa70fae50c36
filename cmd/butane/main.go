package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/width"

	"github.com/butane/engine/internal/config"
	"github.com/butane/engine/internal/core/sched"
	"github.com/butane/engine/internal/core/scratch"
	"github.com/butane/engine/internal/data"
	"github.com/butane/engine/internal/frame"
	"github.com/butane/engine/internal/persist"
	"github.com/butane/engine/internal/render"
	"github.com/butane/engine/internal/render/null"
	"github.com/butane/engine/internal/render/software"
	"github.com/butane/engine/internal/scripting"
	"github.com/butane/engine/internal/stats"
	"github.com/butane/engine/internal/world"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

var printer = message.NewPrinter(language.English)

func printBanner(name string, workers int) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              butane  v0.1.0               \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      task-graph engine core · Go          \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mengine:\033[0m %s \033[90m(workers: %d)\033[0m\n\n", name, workers)
}

// displayWidth counts East Asian wide runes as two columns.
func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

func printSection(title string) {
	lineLen := max(46-displayWidth(title)-1, 3)
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := printer.Sprintf("%d", count)
	dotsLen := max(42-displayWidth(label)-len(numStr), 3)
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Engine ─────────────────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfg, err := config.Load(config.Path())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	// 3. Scheduler
	collector := stats.NewCollector(log)
	scheduler := sched.New(sched.Config{
		Workers:      cfg.Scheduler.Workers,
		TaskPoolSize: cfg.Scheduler.TaskPoolSize,
		Observer:     collector,
	}, log)
	printBanner(cfg.Engine.Name, scheduler.NumWorkers())

	printSection("scheduler")
	if err := scheduler.Initialize(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		if err := scheduler.Shutdown(ctx); err != nil {
			log.Error("scheduler shutdown", zap.Error(err))
		}
	}()
	printStat("workers", scheduler.NumWorkers())
	printStat("task slots", cfg.Scheduler.TaskPoolSize)
	printOK("workers running")
	fmt.Println()

	// 4. Statistics store (optional)
	var repo *persist.StatsRepo
	if cfg.Database.DSN != "" {
		printSection("database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		applied, err := persist.RunMigrations(ctx, db.Pool)
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printStat("migrations applied", applied)
		repo = persist.NewStatsRepo(db, fmt.Sprintf("%s-%d", cfg.Engine.Name, cfg.Engine.StartTime))
		fmt.Println()
	}

	// 5. World data
	printSection("world")
	units, err := data.LoadUnitTable(cfg.World.UnitsFile)
	if err != nil {
		return fmt.Errorf("load unit table: %w", err)
	}
	printStat("unit templates", units.Count())

	spawns, err := data.LoadSpawnList(cfg.World.SpawnsFile)
	if err != nil {
		return fmt.Errorf("load spawn list: %w", err)
	}
	w := world.New(log)
	if err := spawns.Populate(w, units); err != nil {
		return fmt.Errorf("populate world: %w", err)
	}
	printStat("units spawned", spawns.Count())
	printStat("cameras", len(w.Cameras()))

	var opts []frame.Option
	opts = append(opts, frame.WithStats(collector))
	if cfg.Scripting.Enabled {
		engine, err := scripting.NewEngine(cfg.Scripting.Dir, w, units, log)
		if err != nil {
			return fmt.Errorf("scripting: %w", err)
		}
		defer engine.Close()
		opts = append(opts, frame.WithScript(engine))
		printOK("Lua scripts loaded")
	}
	fmt.Println()

	// 6. Render device
	printSection("render")
	device, err := newDevice(cfg.Render, log)
	if err != nil {
		return fmt.Errorf("render device: %w", err)
	}
	defer device.Close()
	printOK(fmt.Sprintf("%s backend", cfg.Render.Backend))

	step, err := frame.NewTimeStepPolicy(frame.TimeStepConfig{
		Policy:      cfg.Engine.TimeStep,
		FixedStep:   cfg.Engine.FixedStep,
		History:     cfg.Engine.SmoothHistory,
		Outliers:    cfg.Engine.SmoothOutliers,
		Rate:        cfg.Engine.SmoothRate,
		PaybackRate: cfg.Engine.PaybackRate,
	})
	if err != nil {
		return fmt.Errorf("time step: %w", err)
	}
	opts = append(opts, frame.WithTimeStep(step))

	arena := scratch.NewArena(cfg.Scratch.CapacityBytes)
	c := cfg.Frame.ClearColor
	driver, err := frame.NewDriver(frame.Config{
		BatchSize:    cfg.Frame.BatchSize,
		RenderWorker: cfg.Render.Worker,
		ClearColor:   render.Color{R: c[0], G: c[1], B: c[2], A: c[3]},
	}, scheduler, w, device, arena, log, opts...)
	if err != nil {
		return fmt.Errorf("frame driver: %w", err)
	}
	printStat("render worker", driver.RenderWorker())
	fmt.Println()

	printSection("ready")
	printReady(fmt.Sprintf("frame time %s, %s time step", cfg.Engine.FrameTime, step.Name()))
	fmt.Println()

	// 7. Frame loop and stats flusher until signalled
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := driver.Run(gctx, cfg.Engine.FrameTime, cfg.Engine.MaxFrames)
		if err == nil {
			// frame limit reached: stop the flusher too
			stop()
		}
		return err
	})
	g.Go(func() error {
		return flushStats(gctx, collector, repo, cfg.Stats, log)
	})
	err = g.Wait()

	log.Info("engine stopped",
		zap.Uint64("frames", collector.Frames()),
		zap.Uint64("tasks", scheduler.Executed()),
		zap.Int64("scratch_outstanding", arena.Outstanding()))
	return err
}

func newDevice(cfg config.RenderConfig, log *zap.Logger) (render.Device, error) {
	switch cfg.Backend {
	case render.BackendNull:
		return null.New(cfg.KeepFrames), nil
	case render.BackendSoftware:
		dev, err := software.New(software.Config{
			Width:         cfg.Width,
			Height:        cfg.Height,
			SnapshotEvery: cfg.SnapshotEvery,
			SnapshotDir:   cfg.SnapshotDir,
		}, log)
		if err != nil {
			return nil, err
		}
		return dev, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// flushStats periodically drains frame samples into the log and, when a
// store is configured, the database. The final flush runs after ctx ends.
func flushStats(ctx context.Context, c *stats.Collector, repo *persist.StatsRepo, cfg config.StatsConfig, log *zap.Logger) error {
	ticker := time.NewTicker(cfg.FlushInterval)
	defer ticker.Stop()

	var window []stats.FrameSample
	flush := func(ctx context.Context, final bool) error {
		samples := c.Drain()
		window = append(window, samples...)
		if len(window) > 0 && (final || cfg.LogEvery > 0 && len(window) >= cfg.LogEvery) {
			c.LogSummary(window)
			window = window[:0]
		}
		if repo == nil || len(samples) == 0 {
			return nil
		}
		if err := repo.WriteFrames(ctx, samples); err != nil {
			return err
		}
		return repo.WriteTasks(ctx, c.Tasks())
	}

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := flush(final, true); err != nil {
				log.Error("final stats flush", zap.Error(err))
			}
			return nil
		case <-ticker.C:
			if err := flush(ctx, false); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("stats flush failed", zap.Error(err))
			}
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
