package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "BUTANE_CONFIG"

const DefaultPath = "config/engine.toml"

type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Scratch   ScratchConfig   `toml:"scratch"`
	Frame     FrameConfig     `toml:"frame"`
	Render    RenderConfig    `toml:"render"`
	World     WorldConfig     `toml:"world"`
	Scripting ScriptingConfig `toml:"scripting"`
	Stats     StatsConfig     `toml:"stats"`
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
}

type EngineConfig struct {
	Name      string        `toml:"name"`
	FrameTime time.Duration `toml:"frame_time"` // target interval between frames
	MaxFrames uint64        `toml:"max_frames"` // 0 = run until signalled
	StartTime int64         // set at boot, not from config

	// TimeStep is "variable", "fixed", "smoothed" or "smoothed_payback".
	TimeStep       string        `toml:"time_step"`
	FixedStep      time.Duration `toml:"fixed_step"`
	SmoothHistory  int           `toml:"smooth_history"`
	SmoothOutliers int           `toml:"smooth_outliers"`
	SmoothRate     float64       `toml:"smooth_rate"`
	PaybackRate    float64       `toml:"payback_rate"`
}

type SchedulerConfig struct {
	Workers         int           `toml:"workers"` // 0 = derive from cores, <0 = cores minus n
	TaskPoolSize    int           `toml:"task_pool_size"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

type ScratchConfig struct {
	CapacityBytes int64 `toml:"capacity_bytes"` // 0 = unbounded
}

type FrameConfig struct {
	BatchSize  int        `toml:"batch_size"`
	ClearColor [4]float32 `toml:"clear_color"`
}

type RenderConfig struct {
	Backend       string `toml:"backend"` // "null" or "software"
	Worker        int    `toml:"worker"`  // -1 = last worker
	Width         int    `toml:"width"`
	Height        int    `toml:"height"`
	SnapshotEvery int    `toml:"snapshot_every"`
	SnapshotDir   string `toml:"snapshot_dir"`
	KeepFrames    int    `toml:"keep_frames"` // null backend history
}

type WorldConfig struct {
	UnitsFile  string `toml:"units_file"`
	SpawnsFile string `toml:"spawns_file"`
}

type ScriptingConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type StatsConfig struct {
	LogEvery      int           `toml:"log_every"` // frames between log summaries
	FlushInterval time.Duration `toml:"flush_interval"`
}

// DatabaseConfig configures the frame statistics store. An empty DSN keeps
// statistics in the log only.
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Path returns the config path from the environment, or the default.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Engine.StartTime = time.Now().Unix()
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Render.Backend {
	case "null", "software":
	default:
		return fmt.Errorf("render.backend %q: want null or software", c.Render.Backend)
	}
	if c.Render.Backend == "software" && (c.Render.Width <= 0 || c.Render.Height <= 0) {
		return fmt.Errorf("render: software backend needs width and height")
	}
	if c.Render.Worker < -1 {
		return fmt.Errorf("render.worker %d: want -1 or a worker index", c.Render.Worker)
	}
	if c.Engine.FrameTime <= 0 {
		return fmt.Errorf("engine.frame_time must be positive")
	}
	switch c.Engine.TimeStep {
	case "variable", "fixed", "smoothed", "smoothed_payback":
	default:
		return fmt.Errorf("engine.time_step %q: want variable, fixed, smoothed or smoothed_payback", c.Engine.TimeStep)
	}
	if c.Engine.TimeStep == "fixed" && c.Engine.FixedStep <= 0 {
		return fmt.Errorf("engine.fixed_step must be positive")
	}
	if c.Scheduler.TaskPoolSize < 0 || c.Frame.BatchSize < 0 || c.Scratch.CapacityBytes < 0 {
		return fmt.Errorf("scheduler.task_pool_size, frame.batch_size and scratch.capacity_bytes must not be negative")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:           "butane",
			FrameTime:      16 * time.Millisecond,
			TimeStep:       "variable",
			FixedStep:      16 * time.Millisecond,
			SmoothHistory:  11,
			SmoothOutliers: 2,
			SmoothRate:     0.5,
			PaybackRate:    0.1,
		},
		Scheduler: SchedulerConfig{
			Workers:         0,
			TaskPoolSize:    4096,
			ShutdownTimeout: 5 * time.Second,
		},
		Scratch: ScratchConfig{
			CapacityBytes: 64 << 20,
		},
		Frame: FrameConfig{
			BatchSize:  64,
			ClearColor: [4]float32{0.05, 0.05, 0.08, 1},
		},
		Render: RenderConfig{
			Backend:     "null",
			Worker:      -1,
			Width:       640,
			Height:      360,
			SnapshotDir: "snapshots",
			KeepFrames:  8,
		},
		World: WorldConfig{
			UnitsFile:  "data/yaml/units.yaml",
			SpawnsFile: "data/yaml/spawns.yaml",
		},
		Scripting: ScriptingConfig{
			Enabled: true,
			Dir:     "scripts",
		},
		Stats: StatsConfig{
			LogEvery:      300,
			FlushInterval: 5 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
