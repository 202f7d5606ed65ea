// Package config provides configuration management for the autograder.
// It uses koanf v2 to load configuration from a YAML or TOML file, layers
// AUTOGRADER_* environment variables on top, then applies overrides from the
// command line.
//
// The configuration file may hold credentials (upload_token, nats_nkey_seed)
// and is written with 0600 permissions by Save.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	goyaml "gopkg.in/yaml.v3"

	"github.com/jvolcy/autograder/internal/capture"
)

// DefaultConfigPath is the configuration file looked up when none is given.
const DefaultConfigPath = "autograder.yaml"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AUTOGRADER_"

// DefaultNATSSubject is the subject batch summaries are published on.
const DefaultNATSSubject = "autograder.batches"

// Config holds the autograder configuration.
// Fields are tagged for both koanf (loading) and yaml (saving).
type Config struct {
	// SourceDir is the directory holding all student submissions. Required.
	SourceDir string `koanf:"source_dir" yaml:"source_dir"`

	// SourceFilename is the entry point looked for in Python project
	// directories, e.g. "main.py". Empty means any directory with a .py file.
	SourceFilename string `koanf:"source_filename" yaml:"source_filename,omitempty"`

	// TestData lists stdin files. Each project is run once per file.
	TestData []string `koanf:"test_data" yaml:"test_data,omitempty"`

	// Output is the HTML report path. Required.
	Output string `koanf:"output" yaml:"output"`

	// Language is "c++" or "python".
	Language string `koanf:"language" yaml:"language"`

	// IncludeSource adds numbered source listings to the report.
	IncludeSource bool `koanf:"include_source" yaml:"include_source"`

	// MaxRunTime is the per-run budget in seconds. Zero gives each program
	// a single poll interval.
	// Default: 3.
	MaxRunTime float64 `koanf:"max_run_time" yaml:"max_run_time"`

	// MaxOutputLines bounds the captured output of each run. Negative means
	// unbounded.
	// Default: 100.
	MaxOutputLines int `koanf:"max_output_lines" yaml:"max_output_lines"`

	// MaxOutputBytes bounds the captured output of each run in bytes.
	// Default: 40 per permitted line.
	MaxOutputBytes int `koanf:"max_output_bytes" yaml:"max_output_bytes"`

	// CompileTimeout is the compiler budget in seconds.
	// Default: 60.
	CompileTimeout float64 `koanf:"compile_timeout" yaml:"compile_timeout"`

	// KillGraceMS is how long a timed out program may react to SIGTERM.
	// Default: 1000.
	KillGraceMS int `koanf:"kill_grace_ms" yaml:"kill_grace_ms"`

	// PollIntervalMS is the deadline used when MaxRunTime is zero.
	// Default: 50.
	PollIntervalMS int `koanf:"poll_interval_ms" yaml:"poll_interval_ms"`

	// PTY runs programs attached to a pseudo-terminal so that C stdio and
	// Python flush line by line.
	PTY bool `koanf:"pty" yaml:"pty"`

	CppCompiler   string `koanf:"cpp_compiler" yaml:"cpp_compiler"`
	PyInterpreter string `koanf:"py_interpreter" yaml:"py_interpreter"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `koanf:"log_level" yaml:"log_level"`

	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format" yaml:"log_format"`

	// DataDir holds the history database.
	// Default: ~/.autograder.
	DataDir string `koanf:"data_dir" yaml:"data_dir,omitempty"`

	// History stores every batch summary and report in DataDir.
	History bool `koanf:"history" yaml:"history"`

	// Schedule is the cron expression used by the watch command.
	Schedule string `koanf:"schedule" yaml:"schedule,omitempty"`

	// NATSServers is a comma-separated list of NATS server URLs. If set with
	// NATSNKeySeed, batch summaries are published.
	NATSServers  string `koanf:"nats_servers" yaml:"nats_servers,omitempty"`
	NATSNKeySeed string `koanf:"nats_nkey_seed" yaml:"nats_nkey_seed,omitempty"`
	NATSSubject  string `koanf:"nats_subject" yaml:"nats_subject,omitempty"`

	// UploadURL receives batch summaries by HTTP POST when set.
	UploadURL   string `koanf:"upload_url" yaml:"upload_url,omitempty"`
	UploadToken string `koanf:"upload_token" yaml:"upload_token,omitempty"`
}

// Validation errors returned by Load when fields are missing or invalid.
var (
	ErrSourceDirRequired     = errors.New("source_dir is required")
	ErrOutputRequired        = errors.New("output is required")
	ErrInvalidRunTime        = errors.New("max_run_time must not be negative")
	ErrInvalidCompileTimeout = errors.New("compile_timeout must be positive")
	ErrInvalidOutputLines    = errors.New("max_output_lines must not be zero")
	ErrInvalidPollInterval   = errors.New("poll_interval_ms must be positive")
	ErrInvalidLogFormat      = errors.New("log_format must be text or json")
	ErrNATSSeedRequired      = errors.New("nats_nkey_seed is required when nats_servers is set")
	ErrScheduleRequired      = errors.New("schedule is required")
	ErrUnsupportedConfigFile = errors.New("unsupported config file extension")
)

// Option overrides configuration after the file and environment are loaded.
type Option func(*Config)

// Load reads configuration from path (skipped when empty), then from
// AUTOGRADER_* environment variables, then applies opts. Keys set nowhere
// keep their defaults.
func Load(path string, opts ...Option) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envValue maps AUTOGRADER_MAX_RUN_TIME to max_run_time. test_data is a
// comma-separated list.
func envValue(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "test_data" {
		var files []string
		for _, f := range strings.Split(value, ",") {
			if f = strings.TrimSpace(f); f != "" {
				files = append(files, f)
			}
		}
		return key, files
	}
	return key, value
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return TOML(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedConfigFile, path)
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := defaults()
	cfg.applyDefaults()
	return &cfg
}

// defaults holds the static defaults. Load decodes on top of them so that an
// explicit zero, such as max_run_time: 0, is kept.
func defaults() Config {
	return Config{
		MaxRunTime:     3,
		MaxOutputLines: 100,
		CompileTimeout: 60,
		KillGraceMS:    1000,
		PollIntervalMS: 50,
		CppCompiler:    "g++",
		PyInterpreter:  "python3",
		LogLevel:       "info",
		LogFormat:      "text",
		NATSSubject:    DefaultNATSSubject,
	}
}

// applyDefaults fills the fields whose defaults depend on other fields.
func (c *Config) applyDefaults() {
	if c.MaxOutputBytes == 0 && c.MaxOutputLines > 0 {
		c.MaxOutputBytes = c.MaxOutputLines * capture.DefaultBytesPerLine
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.NATSSubject == "" {
		c.NATSSubject = DefaultNATSSubject
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autograder"
	}
	return filepath.Join(home, ".autograder")
}

// validate checks that required configuration fields are present and valid.
// The language is checked by the grader so that an unknown language is
// reported as a configuration error of the batch itself.
func (c *Config) validate() error {
	if c.SourceDir == "" {
		return ErrSourceDirRequired
	}
	if c.Output == "" {
		return ErrOutputRequired
	}
	if c.MaxRunTime < 0 {
		return ErrInvalidRunTime
	}
	if c.CompileTimeout <= 0 {
		return ErrInvalidCompileTimeout
	}
	if c.MaxOutputLines == 0 {
		return ErrInvalidOutputLines
	}
	if c.PollIntervalMS <= 0 {
		return ErrInvalidPollInterval
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return ErrInvalidLogFormat
	}
	if c.NATSServers != "" && c.NATSNKeySeed == "" {
		return ErrNATSSeedRequired
	}
	return nil
}

// Save writes the configuration to the specified YAML file path.
// The file is created with 0600 permissions (owner read/write only)
// as it may contain an upload token or NKey seed.
func Save(path string, cfg *Config) error {
	data, err := goyaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}

	return nil
}

// Tool returns the compiler or interpreter command for the configured
// language.
func (c *Config) Tool() string {
	switch strings.ToLower(strings.TrimSpace(c.Language)) {
	case "c++", "cpp", "cxx":
		return c.CppCompiler
	case "python", "py":
		return c.PyInterpreter
	default:
		return ""
	}
}

// RunTimeout is the per-run budget.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.MaxRunTime * float64(time.Second))
}

// CompileBudget is the compiler budget.
func (c *Config) CompileBudget() time.Duration {
	return time.Duration(c.CompileTimeout * float64(time.Second))
}

// KillGrace is the time between SIGTERM and SIGKILL.
func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.KillGraceMS) * time.Millisecond
}

// PollInterval is the deadline of a run with a zero budget.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Limits returns the output capture bounds.
func (c *Config) Limits() capture.Limits {
	lim := capture.DefaultLimits(c.MaxOutputLines)
	if c.MaxOutputBytes != 0 {
		lim.Bytes = c.MaxOutputBytes
	}
	return lim
}

// HistoryPath is the bbolt database file inside DataDir.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// NATSEnabled returns true if NATS configuration is present.
func (c *Config) NATSEnabled() bool {
	return c.NATSServers != "" && c.NATSNKeySeed != ""
}

// UploadEnabled returns true if summaries should be uploaded.
func (c *Config) UploadEnabled() bool {
	return c.UploadURL != ""
}
