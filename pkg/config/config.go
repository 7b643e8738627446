package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// HARMONY_DATABASE_MYSQL_PASSWORD.
	EnvPrefix = "HARMONY"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultLogFormat is the default log output format.
	DefaultLogFormat = "text"

	// DefaultInterval is the default time between reconciliation passes.
	DefaultInterval = 30 * time.Minute

	// DefaultStatusDir is the per-test directory holding status and events.
	DefaultStatusDir = "Status"

	// DefaultStatusFile is the append-only status log inside DefaultStatusDir.
	DefaultStatusFile = "rgt_status.txt"

	// DefaultMaxOutputSize caps how much of one output file is captured.
	DefaultMaxOutputSize = "16MiB"

	// DefaultTablePrefix is prepended to every table name.
	DefaultTablePrefix = "rgt_"

	// DefaultBjobsPath is the LSF bjobs binary looked up on PATH.
	DefaultBjobsPath = "bjobs"

	// DefaultListen is the default query API listen address.
	DefaultListen = ":8080"
)

// Config is the root configuration for harmony.
type Config struct {
	Global     GlobalConfig     `yaml:"global" mapstructure:"global"`
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Reconciler ReconcilerConfig `yaml:"reconciler" mapstructure:"reconciler"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	API        APIConfig        `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`
}

// ReconcilerConfig controls discovery of harness artifacts and the pass loop.
type ReconcilerConfig struct {
	Interval      time.Duration     `yaml:"interval" mapstructure:"interval"`
	Inputs        []string          `yaml:"inputs,omitempty" mapstructure:"inputs"`
	StatusDir     string            `yaml:"status_dir" mapstructure:"status_dir"`
	StatusFile    string            `yaml:"status_file" mapstructure:"status_file"`
	MaxOutputSize ByteSize          `yaml:"max_output_size" mapstructure:"max_output_size"`
	EventTypes    []EventTypeConfig `yaml:"event_types,omitempty" mapstructure:"event_types"`
	CheckCodes    []CheckCodeConfig `yaml:"check_codes,omitempty" mapstructure:"check_codes"`
}

// EventTypeConfig seeds one row of the event type catalog.
type EventTypeConfig struct {
	Code int    `yaml:"code" mapstructure:"code"`
	Name string `yaml:"name" mapstructure:"name"`
}

// CheckCodeConfig seeds one row of the check code lookup table.
type CheckCodeConfig struct {
	Code        int    `yaml:"code" mapstructure:"code"`
	Description string `yaml:"description" mapstructure:"description"`
}

// SchedulerConfig selects the batch scheduler backend.
type SchedulerConfig struct {
	Driver string    `yaml:"driver" mapstructure:"driver"`
	LSF    LSFConfig `yaml:"lsf,omitempty" mapstructure:"lsf"`
}

// LSFConfig configures the bjobs-based LSF gateway. A zero Timeout means
// queries are never cut short.
type LSFConfig struct {
	BjobsPath string        `yaml:"bjobs_path" mapstructure:"bjobs_path"`
	Timeout   time.Duration `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

// ByteSize is a size in bytes that decodes from human readable strings
// such as "16MiB" or "512k".
type ByteSize int64

// MarshalYAML renders the size in human readable form.
func (b ByteSize) MarshalYAML() (any, error) {
	return units.BytesSize(float64(b)), nil
}

// defaultEventTypes mirrors the milestones the harness writes, in order.
var defaultEventTypes = []EventTypeConfig{
	{Code: 110, Name: "logging_start"},
	{Code: 120, Name: "build_start"},
	{Code: 130, Name: "build_end"},
	{Code: 140, Name: "submit_start"},
	{Code: 150, Name: "submit_end"},
	{Code: 160, Name: "job_queued"},
	{Code: 170, Name: "binary_execute_start"},
	{Code: 180, Name: "binary_execute_end"},
	{Code: 190, Name: "check_start"},
	{Code: 200, Name: "check_end"},
}

var defaultCheckCodes = []CheckCodeConfig{
	{Code: 0, Description: "Passed"},
	{Code: 1, Description: "Failed"},
	{Code: 2, Description: "Inconclusive"},
	{Code: 5, Description: "Failed, known issue"},
	{Code: 17, Description: "Check did not run"},
}

// DefaultEventTypes returns a copy of the built-in event type catalog.
func DefaultEventTypes() []EventTypeConfig {
	return append([]EventTypeConfig(nil), defaultEventTypes...)
}

// DefaultCheckCodes returns a copy of the built-in check code catalog.
func DefaultCheckCodes() []CheckCodeConfig {
	return append([]CheckCodeConfig(nil), defaultCheckCodes...)
}

// Load reads and merges one or more configuration files in order. Later
// files override earlier ones and HARMONY_* environment variables override
// everything. With no paths only defaults and the environment apply.
func Load(paths ...string) (*Config, error) {
	return LoadWithOverrides(nil, paths...)
}

// LoadWithOverrides behaves like Load and then applies explicit overrides
// keyed by dotted config path (e.g. "database.mysql.user"), typically
// credentials passed on the command line. Overrides win over the
// environment.
func LoadWithOverrides(overrides map[string]any, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, p := range paths {
		f, err := os.Open(p) //nolint:gosec // operator supplied path
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}

		err = v.MergeConfig(f)
		_ = f.Close()

		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", p, err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToByteSizeHook(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func stringToByteSizeHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch from.Kind() {
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if s == "" {
				return ByteSize(0), nil
			}

			n, err := units.RAMInBytes(s)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q: %w", s, err)
			}

			return ByteSize(n), nil
		default:
			return data, nil
		}
	}
}

// setDefaults registers every key so that environment overrides apply even
// when a key is absent from all config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.log_format", DefaultLogFormat)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.table_prefix", DefaultTablePrefix)
	v.SetDefault("database.max_open_conns", 0)
	v.SetDefault("database.sqlite.path", "harmony.db")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "rgt")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.mysql.host", "localhost")
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.mysql.user", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.database", "rgt")

	v.SetDefault("reconciler.interval", DefaultInterval.String())
	v.SetDefault("reconciler.inputs", []string{})
	v.SetDefault("reconciler.status_dir", DefaultStatusDir)
	v.SetDefault("reconciler.status_file", DefaultStatusFile)
	v.SetDefault("reconciler.max_output_size", DefaultMaxOutputSize)

	v.SetDefault("scheduler.driver", "lsf")
	v.SetDefault("scheduler.lsf.bjobs_path", DefaultBjobsPath)
	v.SetDefault("scheduler.lsf.timeout", "0s")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", DefaultListen)
	v.SetDefault("api.rate_limit.enabled", false)
	v.SetDefault("api.rate_limit.requests_per_minute", 120)
}

// applyDefaults fills values that cannot be expressed as viper defaults.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.LogFormat == "" {
		c.Global.LogFormat = DefaultLogFormat
	}

	if c.Reconciler.Interval == 0 {
		c.Reconciler.Interval = DefaultInterval
	}

	if c.Reconciler.StatusDir == "" {
		c.Reconciler.StatusDir = DefaultStatusDir
	}

	if c.Reconciler.StatusFile == "" {
		c.Reconciler.StatusFile = DefaultStatusFile
	}

	if c.Reconciler.MaxOutputSize == 0 {
		n, _ := units.RAMInBytes(DefaultMaxOutputSize)
		c.Reconciler.MaxOutputSize = ByteSize(n)
	}

	if len(c.Reconciler.EventTypes) == 0 {
		c.Reconciler.EventTypes = DefaultEventTypes()
	}

	if len(c.Reconciler.CheckCodes) == 0 {
		c.Reconciler.CheckCodes = DefaultCheckCodes()
	}

	if c.Scheduler.LSF.BjobsPath == "" {
		c.Scheduler.LSF.BjobsPath = DefaultBjobsPath
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Reconciler.Interval < 0 {
		return fmt.Errorf("reconciler: interval must not be negative")
	}

	if c.Reconciler.MaxOutputSize < 0 {
		return fmt.Errorf("reconciler: max_output_size must not be negative")
	}

	seenEvents := make(map[int]struct{}, len(c.Reconciler.EventTypes))

	for i, et := range c.Reconciler.EventTypes {
		if et.Code < 0 {
			return fmt.Errorf("reconciler: event type %d: negative code %d", i, et.Code)
		}

		if et.Name == "" {
			return fmt.Errorf("reconciler: event type %d: name is required", et.Code)
		}

		if _, ok := seenEvents[et.Code]; ok {
			return fmt.Errorf("reconciler: duplicate event type code %d", et.Code)
		}

		seenEvents[et.Code] = struct{}{}
	}

	seenChecks := make(map[int]struct{}, len(c.Reconciler.CheckCodes))

	for _, cc := range c.Reconciler.CheckCodes {
		if _, ok := seenChecks[cc.Code]; ok {
			return fmt.Errorf("reconciler: duplicate check code %d", cc.Code)
		}

		seenChecks[cc.Code] = struct{}{}
	}

	switch c.Scheduler.Driver {
	case "lsf", "none":
	default:
		return fmt.Errorf("scheduler: unsupported driver %q", c.Scheduler.Driver)
	}

	if c.API.Enabled {
		if err := c.API.Validate(); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() *Config {
	cp := *c

	if cp.Database.Postgres.Password != "" {
		cp.Database.Postgres.Password = "********"
	}

	if cp.Database.MySQL.Password != "" {
		cp.Database.MySQL.Password = "********"
	}

	annotators := make([]AnnotatorConfig, len(c.API.Annotators))
	for i, a := range c.API.Annotators {
		annotators[i] = AnnotatorConfig{Username: a.Username, PasswordHash: "********"}
	}

	cp.API.Annotators = annotators

	return &cp
}
