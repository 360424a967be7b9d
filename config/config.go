// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ErrInvalid is returned when a loaded configuration cannot be used.
var ErrInvalid = errors.New("invalid config")

// Config holds all simulation configuration parameters.
type Config struct {
	Materials MaterialsConfig `yaml:"materials"`
	Engine    EngineConfig    `yaml:"engine"`
	Flow      FlowConfig      `yaml:"flow"`
	Scene     SceneConfig     `yaml:"scene"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// MaterialsConfig selects the material catalog.
type MaterialsConfig struct {
	Catalog string `yaml:"catalog"` // CSV path; empty uses the built-in catalog
}

// EngineConfig holds cell space parameters.
type EngineConfig struct {
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	Workers           int           `yaml:"workers"`
	ParallelThreshold int           `yaml:"parallel_threshold"`
	MaxTicks          int           `yaml:"max_ticks"`
}

// FlowConfig holds gas flow parameters.
type FlowConfig struct {
	Rate float64 `yaml:"rate"` // in [0, 1]
}

// SceneConfig describes the generated starting world.
type SceneConfig struct {
	Width         int           `yaml:"width"`
	Height        int           `yaml:"height"`
	Seed          int64         `yaml:"seed"`
	Scale         float64       `yaml:"scale"`
	Roughness     float64       `yaml:"roughness"`
	Jitter        float64       `yaml:"jitter"`
	CaveThreshold float64       `yaml:"cave_threshold"`
	Layers        []LayerConfig `yaml:"layers"`
}

// LayerConfig is one horizontal band of the scene, filled from the previous
// layer's top up to its own.
type LayerConfig struct {
	Material    string  `yaml:"material"`
	Top         float64 `yaml:"top"` // fraction of scene height
	Mass        float64 `yaml:"mass"`
	Temperature float64 `yaml:"temperature"`
	Caves       bool    `yaml:"caves"`
}

// TelemetryConfig holds stats and metrics output parameters.
type TelemetryConfig struct {
	StatsEvery  int    `yaml:"stats_every"`
	PerfWindow  int    `yaml:"perf_window"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// SnapshotConfig holds persistence parameters.
type SnapshotConfig struct {
	Every int    `yaml:"every"`
	Dir   string `yaml:"dir"`
	DB    string `yaml:"db"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Workers   int   // Engine.Workers, or GOMAXPROCS when unset
	Cells     int   // Scene.Width * Scene.Height
	LayerRows []int // first row above each layer
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only overwrites fields present in the file. A layers list replaces
		// the default list as a whole.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

func (c *Config) validate() error {
	if !(c.Flow.Rate >= 0 && c.Flow.Rate <= 1) {
		return fmt.Errorf("%w: flow.rate %v outside [0, 1]", ErrInvalid, c.Flow.Rate)
	}
	if c.Engine.LockTimeout < 0 {
		return fmt.Errorf("%w: engine.lock_timeout is negative", ErrInvalid)
	}
	if c.Scene.Width <= 0 || c.Scene.Height <= 0 {
		return fmt.Errorf("%w: scene is %dx%d", ErrInvalid, c.Scene.Width, c.Scene.Height)
	}
	prev := 0.0
	for i, l := range c.Scene.Layers {
		if l.Material == "" {
			return fmt.Errorf("%w: scene.layers[%d] has no material", ErrInvalid, i)
		}
		if l.Top < prev || l.Top > 1 {
			return fmt.Errorf("%w: scene.layers[%d].top %v not in [%v, 1]", ErrInvalid, i, l.Top, prev)
		}
		if l.Mass < 0 {
			return fmt.Errorf("%w: scene.layers[%d].mass is negative", ErrInvalid, i)
		}
		prev = l.Top
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Workers = c.Engine.Workers
	if c.Derived.Workers <= 0 {
		c.Derived.Workers = runtime.GOMAXPROCS(0)
	}
	c.Derived.Cells = c.Scene.Width * c.Scene.Height

	c.Derived.LayerRows = make([]int, len(c.Scene.Layers))
	for i, l := range c.Scene.Layers {
		c.Derived.LayerRows[i] = int(math.Round(l.Top * float64(c.Scene.Height)))
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
