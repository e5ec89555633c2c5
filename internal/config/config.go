// Package config loads and validates the archiver's configuration
// document (spec §6): a structured YAML file with app, source_files,
// configuration_store, archive_store, fhiclize_generate, reporting, and
// fuzz sections, bound into a typed Config via viper/mapstructure.
//
// Before viper ever sees the document, a pre-processing pass expands
// ${NAME} / ${NAME:-default} environment variable references and
// ${section.key} intra-document references (with circular-reference
// detection) — viper itself has no such expansion, so this is done by
// hand over the raw YAML tree.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/run-record-archiver/internal/convert"
	"github.com/vitaliisemenov/run-record-archiver/internal/errs"
	"github.com/vitaliisemenov/run-record-archiver/internal/fuzz"
	"github.com/vitaliisemenov/run-record-archiver/pkg/logger"
)

// Config is the root of the archiver's configuration document.
type Config struct {
	App                AppConfig                `mapstructure:"app"`
	SourceFiles        SourceFilesConfig        `mapstructure:"source_files"`
	ConfigurationStore ConfigurationStoreConfig `mapstructure:"configuration_store"`
	ArchiveStore       ArchiveStoreConfig       `mapstructure:"archive_store"`
	FHiclizeGenerate   FHiclizeGenerateConfig   `mapstructure:"fhiclize_generate"`
	Reporting          ReportingConfig          `mapstructure:"reporting"`
	Fuzz               FuzzConfig               `mapstructure:"fuzz"`
}

// AppConfig holds paths, concurrency, retry policy, and logging.
type AppConfig struct {
	WorkDir           string    `mapstructure:"work_dir"`
	ParallelWorkers   int       `mapstructure:"parallel_workers"`
	BatchSize         int       `mapstructure:"batch_size"`
	RunProcessRetries int       `mapstructure:"run_process_retries"`
	RetryDelaySeconds int       `mapstructure:"retry_delay_seconds"`
	Verbose           bool      `mapstructure:"verbose"`
	Log               LogConfig `mapstructure:"log"`
}

// LogConfig mirrors pkg/logger.Config; kept separate so the config
// package does not need to import pkg/logger's struct tags directly.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerConfig converts to the logger package's own Config type.
func (l LogConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Output:     l.Output,
		Filename:   l.Filename,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
	}
}

// SourceFilesConfig names the run-records directory the import stage
// reads from.
type SourceFilesConfig struct {
	Directory string `mapstructure:"directory"`
}

// ConfigurationStoreMode is the closed set of transport modes (spec §9).
type ConfigurationStoreMode string

const (
	ModeDriver    ConfigurationStoreMode = "driver"
	ModeCLILocal  ConfigurationStoreMode = "cli-local"
	ModeCLIRemote ConfigurationStoreMode = "cli-remote"
)

// ConfigurationStoreConfig selects and configures the configuration-store
// adapter's transport mode.
type ConfigurationStoreConfig struct {
	Mode ConfigurationStoreMode `mapstructure:"mode"`

	// driver mode
	Dialect string `mapstructure:"dialect"` // "sqlite" | "postgres"
	URI     string `mapstructure:"uri"`

	// cli-local / cli-remote mode
	CLIToolPath   string `mapstructure:"cli_tool_path"`
	RemoteHost    string `mapstructure:"remote_host"`
	RemoteUser    string `mapstructure:"remote_user"`
	RemoteKeyPath string `mapstructure:"remote_key_path"`
	RemoteWorkDir string `mapstructure:"remote_work_dir"`

	SchemaDir string `mapstructure:"schema_dir"`
}

// ArchiveStoreConfig configures the HTTP-backed archive store.
type ArchiveStoreConfig struct {
	URL            string `mapstructure:"url"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	VerifyUpload   bool   `mapstructure:"verify_upload"`
}

// FHiclizeGenerateConfig names the enabled converters and generators
// from the closed set in spec §4.5.
type FHiclizeGenerateConfig struct {
	Converters          []string `mapstructure:"converters"`
	GenerateRunHistory  bool     `mapstructure:"generate_run_history"`
	GenerateRunHistory2 bool     `mapstructure:"generate_run_history2"`
	SchemaFCLPath       string   `mapstructure:"schema_fcl_path"`
}

// ReportingConfig names the notification sinks and metrics endpoint.
type ReportingConfig struct {
	SMTP    SMTPConfig    `mapstructure:"smtp"`
	Slack   SlackConfig   `mapstructure:"slack"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type SMTPConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
}

type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	JobName        string `mapstructure:"job_name"`
}

// FuzzConfig mirrors internal/fuzz.Config in a config-file-friendly
// shape (string-keyed maps, since YAML keys are strings).
type FuzzConfig struct {
	Enabled            bool           `mapstructure:"enabled"`
	PermanentSkipRuns  []int          `mapstructure:"permanent_skip_runs"`
	TransientFailRuns  map[string]int `mapstructure:"transient_fail_runs"`
	LatencySecondsRuns map[string]int `mapstructure:"latency_seconds_runs"`
}

// ToFuzzConfig converts the string-keyed config-file shape into
// internal/fuzz.Config's run-number-keyed shape.
func (f FuzzConfig) ToFuzzConfig() (fuzz.Config, error) {
	permanent := make(map[int]bool, len(f.PermanentSkipRuns))
	for _, run := range f.PermanentSkipRuns {
		permanent[run] = true
	}

	transient := make(map[int]int, len(f.TransientFailRuns))
	for key, count := range f.TransientFailRuns {
		run, err := strconv.Atoi(key)
		if err != nil {
			return fuzz.Config{}, fmt.Errorf("fuzz.transient_fail_runs: invalid run number %q: %w", key, err)
		}
		transient[run] = count
	}

	latency := make(map[int]time.Duration, len(f.LatencySecondsRuns))
	for key, seconds := range f.LatencySecondsRuns {
		run, err := strconv.Atoi(key)
		if err != nil {
			return fuzz.Config{}, fmt.Errorf("fuzz.latency_seconds_runs: invalid run number %q: %w", key, err)
		}
		latency[run] = time.Duration(seconds) * time.Second
	}

	return fuzz.Config{
		Enabled:           f.Enabled,
		PermanentSkipRuns: permanent,
		TransientFailRuns: transient,
		LatencyRuns:       latency,
	}, nil
}

// DefaultConfigPath is used when no config file path is given on the
// command line (spec §6).
const DefaultConfigPath = "config.yaml"

// refPattern matches ${...} tokens, capturing the inner reference.
var refPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads, expands, and unmarshals the configuration document at
// path into a validated Config.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "read configuration file", err).WithField("path", path)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "parse configuration yaml", err).WithField("path", path)
	}

	if err := expandTree(raw, raw); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "expand configuration references", err).WithField("path", path)
	}

	expanded, err := yaml.Marshal(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "re-marshal expanded configuration", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "load expanded configuration into viper", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "unmarshal configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandTree walks every string leaf of node, resolving ${...}
// references in place. root is passed through for intra-document
// lookups (section.key against the whole document, not just the
// current subtree).
func expandTree(root map[string]interface{}, node interface{}) error {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, val := range v {
			switch s := val.(type) {
			case string:
				resolved, err := expandString(root, s, nil)
				if err != nil {
					return fmt.Errorf("key %q: %w", key, err)
				}
				v[key] = resolved
			default:
				if err := expandTree(root, val); err != nil {
					return err
				}
			}
		}
	case []interface{}:
		for i, val := range v {
			switch s := val.(type) {
			case string:
				resolved, err := expandString(root, s, nil)
				if err != nil {
					return err
				}
				v[i] = resolved
			default:
				if err := expandTree(root, val); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// expandString resolves every ${...} token in s. visiting tracks the
// chain of intra-document references currently being resolved, so a
// cycle (a.b -> c.d -> a.b) is reported rather than looping forever.
func expandString(root map[string]interface{}, s string, visiting map[string]bool) (string, error) {
	var resolveErr error
	result := refPattern.ReplaceAllStringFunc(s, func(token string) string {
		if resolveErr != nil {
			return token
		}
		inner := token[2 : len(token)-1] // strip "${" and "}"

		name, def, hasDefault := strings.Cut(inner, ":-")

		if strings.Contains(name, ".") {
			value, err := resolveDocRef(root, name, visiting)
			if err != nil {
				if hasDefault {
					return def
				}
				resolveErr = err
				return token
			}
			return value
		}

		if envVal, ok := os.LookupEnv(name); ok {
			return envVal
		}
		if hasDefault {
			return def
		}
		resolveErr = fmt.Errorf("environment variable %q is not set and no default given", name)
		return token
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return result, nil
}

// resolveDocRef looks up "section.key" in root, recursively expanding
// the referenced value if it itself contains references.
func resolveDocRef(root map[string]interface{}, path string, visiting map[string]bool) (string, error) {
	if visiting == nil {
		visiting = make(map[string]bool)
	}
	if visiting[path] {
		return "", fmt.Errorf("circular reference detected at %q", path)
	}
	visiting[path] = true

	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid intra-document reference %q (want section.key)", path)
	}
	section, ok := root[parts[0]].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unknown section %q in reference %q", parts[0], path)
	}
	value, ok := section[parts[1]]
	if !ok {
		return "", fmt.Errorf("unknown key %q in reference %q", parts[1], path)
	}
	str, ok := value.(string)
	if !ok {
		return fmt.Sprintf("%v", value), nil
	}
	return expandString(root, str, visiting)
}

// Validate enforces the closed-set and cross-field constraints this
// document's sections carry (spec §6, §4.5, §4.14).
func (c *Config) Validate() error {
	if c.App.WorkDir == "" {
		return errs.New(errs.KindConfiguration, "app.work_dir is required")
	}
	if c.App.ParallelWorkers <= 0 {
		return errs.New(errs.KindConfiguration, "app.parallel_workers must be positive")
	}
	if c.SourceFiles.Directory == "" {
		return errs.New(errs.KindConfiguration, "source_files.directory is required")
	}

	switch c.ConfigurationStore.Mode {
	case ModeDriver:
		if c.ConfigurationStore.URI == "" {
			return errs.New(errs.KindConfiguration, "configuration_store.uri is required in driver mode")
		}
	case ModeCLILocal:
		if c.ConfigurationStore.CLIToolPath == "" {
			return errs.New(errs.KindConfiguration, "configuration_store.cli_tool_path is required in cli-local mode")
		}
	case ModeCLIRemote:
		if c.ConfigurationStore.CLIToolPath == "" || c.ConfigurationStore.RemoteHost == "" {
			return errs.New(errs.KindConfiguration, "configuration_store.cli_tool_path and remote_host are required in cli-remote mode")
		}
	default:
		return errs.New(errs.KindConfiguration, "configuration_store.mode must be one of driver, cli-local, cli-remote").
			WithField("mode", string(c.ConfigurationStore.Mode))
	}

	if c.ArchiveStore.URL == "" {
		return errs.New(errs.KindConfiguration, "archive_store.url is required")
	}

	known := make(map[string]bool, len(convert.Kinds))
	for _, k := range convert.Kinds {
		known[k] = true
	}
	for _, name := range c.FHiclizeGenerate.Converters {
		if !known[name] {
			return errs.New(errs.KindConfiguration, "fhiclize_generate.converters names an unknown converter").
				WithField("converter", name)
		}
	}

	return nil
}
