// Package config loads the rulecheck command configuration from an
// optional rulecheck.yaml, RULECHECK_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	rc "github.com/gofhir/rulecheck"
	"github.com/gofhir/rulecheck/pkg/codemaster"
	"github.com/gofhir/rulecheck/pkg/logger"
	"github.com/gofhir/rulecheck/pkg/suggest"
)

// EnvPrefix prefixes every environment variable, e.g. RULECHECK_WORKERS or
// RULECHECK_CODEMASTER_DSN.
const EnvPrefix = "RULECHECK"

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// Config is the command configuration.
type Config struct {
	ReferencePolicy   string        `mapstructure:"reference_policy"`
	Workers           int           `mapstructure:"workers"`
	Concurrency       int           `mapstructure:"concurrency"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`
	MaxDepth          int           `mapstructure:"max_depth"`
	StrictMode        bool          `mapstructure:"strict_mode"`
	ReportUnreachable bool          `mapstructure:"report_unreachable"`

	RulesFile            string     `mapstructure:"rules"`
	CodeMaster           CodeMaster `mapstructure:"codemaster"`
	StructureDefinitions []string   `mapstructure:"structure_definitions"`

	LogLevel string  `mapstructure:"log_level"`
	Output   string  `mapstructure:"output"`
	Suggest  Suggest `mapstructure:"suggest"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-"`
}

// CodeMaster locates the code master: YAML or FHIR CodeSystem/ValueSet
// files, a PostgreSQL table, or both.
type CodeMaster struct {
	Files []string `mapstructure:"files"`
	DSN   string   `mapstructure:"dsn"`
	Table string   `mapstructure:"table"`
}

// Suggest configures rule suggestion.
type Suggest struct {
	MinLevel   string             `mapstructure:"min_level"`
	Thresholds suggest.Thresholds `mapstructure:"thresholds"`
}

func setDefaults(v *viper.Viper) {
	s := rc.DefaultSettings()
	v.SetDefault("reference_policy", s.ReferencePolicy.String())
	v.SetDefault("workers", s.Workers)
	v.SetDefault("concurrency", runtime.NumCPU())
	v.SetDefault("run_timeout", s.RunTimeout)
	v.SetDefault("lookup_timeout", s.LookupTimeout)
	v.SetDefault("max_depth", s.MaxDepth)
	v.SetDefault("strict_mode", false)
	v.SetDefault("report_unreachable", false)
	v.SetDefault("rules", "")
	v.SetDefault("codemaster.files", []string{})
	v.SetDefault("codemaster.dsn", "")
	v.SetDefault("codemaster.table", codemaster.DefaultTable)
	v.SetDefault("structure_definitions", []string{})
	v.SetDefault("log_level", "info")
	v.SetDefault("output", OutputText)

	th := suggest.DefaultThresholds()
	v.SetDefault("suggest.min_level", string(suggest.LevelMedium))
	v.SetDefault("suggest.thresholds.required_coverage", th.RequiredCoverage)
	v.SetDefault("suggest.thresholds.allowed_values_max_distinct", th.AllowedValuesMaxDistinct)
	v.SetDefault("suggest.thresholds.allowed_values_max_ratio", th.AllowedValuesMaxRatio)
	v.SetDefault("suggest.thresholds.allowed_values_min_coverage", th.AllowedValuesMinCoverage)
	v.SetDefault("suggest.thresholds.format_consistency", th.FormatConsistency)
	v.SetDefault("suggest.thresholds.min_occurrences", th.MinOccurrences)
	v.SetDefault("suggest.thresholds.sample_retention", th.SampleRetention)
	v.SetDefault("suggest.thresholds.evidence_limit", th.EvidenceLimit)
	v.SetDefault("suggest.thresholds.sample_size_saturation", th.SampleSizeSaturation)
	v.SetDefault("suggest.thresholds.exclude_paths", th.ExcludePaths)
}

// Load reads the configuration. An empty file searches for rulecheck.yaml
// in the working directory and tolerates its absence; a named file must
// exist. Overrides, keyed like the file (e.g. "codemaster.dsn"), take
// precedence over everything else.
func Load(file string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("rulecheck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

// Validate checks every value and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := rc.ParseReferencePolicy(c.ReferencePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("concurrency must be positive, got %d", c.Concurrency))
	}
	if c.RunTimeout < 0 {
		errs = append(errs, fmt.Errorf("run_timeout must not be negative, got %s", c.RunTimeout))
	}
	if c.LookupTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lookup_timeout must be positive, got %s", c.LookupTimeout))
	}
	if c.MaxDepth <= 0 {
		errs = append(errs, fmt.Errorf("max_depth must be positive, got %d", c.MaxDepth))
	}
	if c.CodeMaster.DSN != "" && c.CodeMaster.Table == "" {
		errs = append(errs, errors.New("codemaster.table is required with codemaster.dsn"))
	}
	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}
	if c.Output != OutputText && c.Output != OutputJSON {
		errs = append(errs, fmt.Errorf("output must be %q or %q, got %q", OutputText, OutputJSON, c.Output))
	}
	if _, err := c.MinLevel(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Suggest.Thresholds.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("suggest.thresholds: %w", err))
	}
	return errors.Join(errs...)
}

// Settings converts the configuration into pipeline settings.
func (c *Config) Settings() (rc.Settings, error) {
	policy, err := rc.ParseReferencePolicy(c.ReferencePolicy)
	if err != nil {
		return rc.Settings{}, err
	}
	return rc.NewSettings(
		rc.WithReferencePolicy(policy),
		rc.WithWorkers(c.Workers),
		rc.WithRunTimeout(c.RunTimeout),
		rc.WithLookupTimeout(c.LookupTimeout),
		rc.WithMaxDepth(c.MaxDepth),
		rc.WithStrictMode(c.StrictMode),
		rc.WithReportUnreachable(c.ReportUnreachable),
	), nil
}

// Level returns the configured log level.
func (c *Config) Level() logger.Level {
	l, _ := logger.ParseLevel(c.LogLevel)
	return l
}

// MinLevel returns the lowest suggestion level exported as rules.
func (c *Config) MinLevel() (suggest.Level, error) {
	for _, l := range []suggest.Level{suggest.LevelLow, suggest.LevelMedium, suggest.LevelHigh} {
		if strings.EqualFold(c.Suggest.MinLevel, string(l)) {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown suggest.min_level %q", c.Suggest.MinLevel)
}
