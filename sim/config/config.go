// Package config loads and validates the simulation configuration.
//
// A configuration file is YAML (strict: unknown keys are rejected) or TOML
// (undecoded keys are rejected). Selected fields can be overridden from the
// environment with the SIMKERNEL_ prefix.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/simkernel/sim/trace"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIMKERNEL_"

// DateLayout is the format of simulation.start_date.
const DateLayout = "2006-01-02"

// Config is the whole configuration document.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type Config struct {
	// ExperimentID is generated on cold start and carried in snapshots.
	ExperimentID string           `yaml:"experiment_id,omitempty" toml:"experiment_id" env:"EXPERIMENT_ID"`
	Simulation   SimulationConfig `yaml:"simulation" toml:"simulation"`
	Snapshot     SnapshotConfig   `yaml:"snapshot" toml:"snapshot"`
	Command      CommandConfig    `yaml:"command" toml:"command"`
	Analytics    AnalyticsConfig  `yaml:"analytics" toml:"analytics"`
	Debug        DebugConfig      `yaml:"debug" toml:"debug"`
	Demo         DemoConfig       `yaml:"demo" toml:"demo"`
}

type SimulationConfig struct {
	ExperimentName      string `yaml:"experiment_name" toml:"experiment_name" env:"EXPERIMENT_NAME"`
	StartDate           string `yaml:"start_date" toml:"start_date"`
	EndTime             string `yaml:"end_time,omitempty" toml:"end_time" env:"END_TIME"` // RFC3339, empty runs until stopped
	TickIntervalSeconds int64  `yaml:"tick_interval_seconds" toml:"tick_interval_seconds"`
	RandomSeed          int64  `yaml:"random_seed" toml:"random_seed" env:"RANDOM_SEED"`
	// AutomaticStart runs the clock immediately; otherwise it waits for a Start command.
	AutomaticStart    bool   `yaml:"automatic_start" toml:"automatic_start" env:"AUTOMATIC_START"`
	PausedBackoffMs   int64  `yaml:"paused_backoff_ms" toml:"paused_backoff_ms"`
	LoadFromSnapshot  bool   `yaml:"load_from_snapshot" toml:"load_from_snapshot" env:"LOAD_FROM_SNAPSHOT"`
	SnapshotDirectory string `yaml:"snapshot_directory,omitempty" toml:"snapshot_directory" env:"SNAPSHOT_DIRECTORY"`
}

type SnapshotConfig struct {
	ShouldSave          bool  `yaml:"should_save" toml:"should_save" env:"SNAPSHOT_SHOULD_SAVE"`
	ShouldSaveAtStart   bool  `yaml:"should_save_at_start" toml:"should_save_at_start"`
	SaveIntervalSeconds int64 `yaml:"snapshot_save_interval" toml:"snapshot_save_interval"`
	// Keep bounds how many snapshots are retained; 0 keeps all.
	Keep int `yaml:"keep" toml:"keep"`
}

type CommandConfig struct {
	Enabled             bool   `yaml:"enabled" toml:"enabled"`
	CommandDirectory    string `yaml:"command_directory,omitempty" toml:"command_directory" env:"COMMAND_DIRECTORY"`
	CommandReadInterval int64  `yaml:"command_read_interval" toml:"command_read_interval"` // simulated seconds
}

type AnalyticsConfig struct {
	SavePath string `yaml:"save_path" toml:"save_path" env:"SAVE_PATH"`
	// MetricsAddress serves Prometheus kernel metrics when non-empty, e.g. ":9464".
	MetricsAddress string `yaml:"metrics_address,omitempty" toml:"metrics_address" env:"METRICS_ADDRESS"`
	TraceLevel     string `yaml:"trace_level,omitempty" toml:"trace_level"`
	TraceMaxTicks  int    `yaml:"trace_max_ticks,omitempty" toml:"trace_max_ticks"`
	// OTelStdout exports OpenTelemetry spans to stdout.
	OTelStdout bool `yaml:"otel_stdout,omitempty" toml:"otel_stdout" env:"OTEL_STDOUT"`
}

type DebugConfig struct {
	LogLevel                        string `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	TimeIndicatorPrintIntervalHours int64  `yaml:"time_indicator_print_interval_hours" toml:"time_indicator_print_interval_hours"`
}

// DemoConfig sizes the demonstration marketplace built on cold start.
type DemoConfig struct {
	Households            int `yaml:"households" toml:"households"`
	Stores                int `yaml:"stores" toml:"stores"`
	FavoritesPerHousehold int `yaml:"favorites_per_household" toml:"favorites_per_household"`
	// Income is the daily household income; BasePrice is a store's price before
	// the market index applies.
	Income    DistSpec `yaml:"income" toml:"income"`
	BasePrice DistSpec `yaml:"base_price" toml:"base_price"`
	// PriceShockDay is the day the price shock hits; 0 disables it.
	PriceShockDay int `yaml:"price_shock_day" toml:"price_shock_day"`
}

// DistSpec names a sampling distribution and its parameters, e.g.
// {type: gaussian, params: {mean: 100, std_dev: 25, min: 20, max: 250}}.
type DistSpec struct {
	Type   string             `yaml:"type" toml:"type"`
	Params map[string]float64 `yaml:"params,omitempty" toml:"params"`
}

// Default returns a configuration that runs a week of hourly ticks.
func Default() *Config {
	return &Config{
		Simulation: SimulationConfig{
			ExperimentName:      "simkernel",
			StartDate:           "2024-01-01",
			EndTime:             "2024-01-08T00:00:00Z",
			TickIntervalSeconds: 3600,
			RandomSeed:          1,
			AutomaticStart:      true,
			PausedBackoffMs:     100,
		},
		Snapshot: SnapshotConfig{
			ShouldSave:          true,
			SaveIntervalSeconds: 86400,
		},
		Command: CommandConfig{
			Enabled:             true,
			CommandReadInterval: 3600,
		},
		Analytics: AnalyticsConfig{
			SavePath:   "experiments",
			TraceLevel: string(trace.TraceLevelNone),
		},
		Debug: DebugConfig{
			LogLevel:                        "info",
			TimeIndicatorPrintIntervalHours: 24,
		},
		Demo: DemoConfig{
			Households:            20,
			Stores:                3,
			FavoritesPerHousehold: 2,
			PriceShockDay:         3,
			Income: DistSpec{Type: "gaussian", Params: map[string]float64{
				"mean": 100, "std_dev": 25, "min": 20, "max": 250,
			}},
			BasePrice: DistSpec{Type: "uniform", Params: map[string]float64{"min": 5, "max": 15}},
		},
	}
}

// Load reads path on top of Default, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies SIMKERNEL_ overrides to cfg and validates the result.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return cfg.Validate()
}

// ReadFile decodes path on top of Default without environment overrides or
// validation. Snapshot loading uses it so a saved config is taken as-is.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing config %s: unknown keys %v", path, undecoded)
		}
	default:
		// Strict parsing: typos must cause errors.
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

var validLogLevels = map[string]bool{
	"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true, "fatal": true, "panic": true,
}

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	s := c.Simulation
	if s.ExperimentName == "" {
		return fmt.Errorf("simulation.experiment_name must not be empty")
	}
	if s.TickIntervalSeconds <= 0 {
		return fmt.Errorf("simulation.tick_interval_seconds must be positive, got %d", s.TickIntervalSeconds)
	}
	start, err := c.StartTime()
	if err != nil {
		return err
	}
	end, err := c.EndTime()
	if err != nil {
		return err
	}
	if !end.IsZero() && end.Before(start) {
		return fmt.Errorf("simulation.end_time %s is before start_date %s", s.EndTime, s.StartDate)
	}
	if s.PausedBackoffMs < 0 {
		return fmt.Errorf("simulation.paused_backoff_ms must be non-negative, got %d", s.PausedBackoffMs)
	}
	if s.LoadFromSnapshot && s.SnapshotDirectory == "" && c.ExperimentID == "" {
		return fmt.Errorf("simulation.load_from_snapshot needs snapshot_directory or experiment_id")
	}
	if c.Snapshot.ShouldSave && c.Snapshot.SaveIntervalSeconds <= 0 {
		return fmt.Errorf("snapshot.snapshot_save_interval must be positive when saving, got %d", c.Snapshot.SaveIntervalSeconds)
	}
	if c.Snapshot.Keep < 0 {
		return fmt.Errorf("snapshot.keep must be non-negative, got %d", c.Snapshot.Keep)
	}
	if c.Command.Enabled && c.Command.CommandReadInterval <= 0 {
		return fmt.Errorf("command.command_read_interval must be positive, got %d", c.Command.CommandReadInterval)
	}
	if c.Analytics.SavePath == "" {
		return fmt.Errorf("analytics.save_path must not be empty")
	}
	if !trace.IsValidTraceLevel(c.Analytics.TraceLevel) {
		return fmt.Errorf("analytics.trace_level %q; valid: none, commands, ticks", c.Analytics.TraceLevel)
	}
	if c.Analytics.TraceMaxTicks < 0 {
		return fmt.Errorf("analytics.trace_max_ticks must be non-negative, got %d", c.Analytics.TraceMaxTicks)
	}
	if !validLogLevels[strings.ToLower(c.Debug.LogLevel)] {
		return fmt.Errorf("debug.log_level %q is not a logrus level", c.Debug.LogLevel)
	}
	if c.Debug.TimeIndicatorPrintIntervalHours < 0 {
		return fmt.Errorf("debug.time_indicator_print_interval_hours must be non-negative")
	}
	d := c.Demo
	if d.Households < 0 || d.Stores < 0 || d.FavoritesPerHousehold < 0 {
		return fmt.Errorf("demo population sizes must be non-negative")
	}
	if d.FavoritesPerHousehold > 0 && d.Stores == 0 {
		return fmt.Errorf("demo.favorites_per_household needs at least one store")
	}
	return nil
}

// EnsureExperimentID assigns a fresh id when none is set and returns the id.
func (c *Config) EnsureExperimentID() string {
	if c.ExperimentID == "" {
		c.ExperimentID = uuid.NewString()
	}
	return c.ExperimentID
}

// ExperimentRoot is <save_path>/<experiment_name>_<experiment_id>.
func (c *Config) ExperimentRoot() string {
	return filepath.Join(c.Analytics.SavePath, c.Simulation.ExperimentName+"_"+c.ExperimentID)
}

// SnapshotRoot is where snapshot_<ticks> directories live.
func (c *Config) SnapshotRoot() string {
	if c.Simulation.SnapshotDirectory != "" {
		return c.Simulation.SnapshotDirectory
	}
	return filepath.Join(c.ExperimentRoot(), "snapshots")
}

// CommandDir is where command.json is read from.
func (c *Config) CommandDir() string {
	if c.Command.CommandDirectory != "" {
		return c.Command.CommandDirectory
	}
	return filepath.Join(c.ExperimentRoot(), "commands")
}

// StartTime parses simulation.start_date as midnight UTC.
func (c *Config) StartTime() (time.Time, error) {
	t, err := time.Parse(DateLayout, c.Simulation.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("simulation.start_date %q: %w", c.Simulation.StartDate, err)
	}
	return t, nil
}

// EndTime parses simulation.end_time. Zero means unbounded.
func (c *Config) EndTime() (time.Time, error) {
	if c.Simulation.EndTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, c.Simulation.EndTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("simulation.end_time %q: %w", c.Simulation.EndTime, err)
	}
	return t, nil
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Simulation.TickIntervalSeconds) * time.Second
}

func (c *Config) PausedBackoff() time.Duration {
	return time.Duration(c.Simulation.PausedBackoffMs) * time.Millisecond
}

func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Snapshot.SaveIntervalSeconds) * time.Second
}

func (c *Config) CommandReadInterval() time.Duration {
	return time.Duration(c.Command.CommandReadInterval) * time.Second
}

func (c *Config) TimeIndicatorInterval() time.Duration {
	return time.Duration(c.Debug.TimeIndicatorPrintIntervalHours) * time.Hour
}

// TraceConfig converts the analytics section into a trace configuration.
func (c *Config) TraceConfig() trace.TraceConfig {
	return trace.TraceConfig{Level: trace.TraceLevel(c.Analytics.TraceLevel), MaxTicks: c.Analytics.TraceMaxTicks}
}
