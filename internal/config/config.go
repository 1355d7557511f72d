// Package config loads the per-project supervisor configuration from
// .foreman/config.yaml, layering FOREMAN_*-prefixed environment
// overrides on top via viper and merging onto built-in defaults with
// dario.cat/mergo.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/spf13/viper"

	"github.com/corvid-labs/foreman/internal/ferrors"
	"github.com/corvid-labs/foreman/internal/task"
)

// ForemanDir is the per-project directory holding config and the
// default embedded sqlite store.
const ForemanDir = ".foreman"

// ConfigFileName is the project config file's base name, without
// extension (viper resolves the extension).
const ConfigFileName = "config"

// Config is the Supervisor configuration, the external interface
// described in the spec's configuration section.
type Config struct {
	ProjectID            string             `mapstructure:"project_id" yaml:"project_id"`
	ProjectPath          string             `mapstructure:"project_path" yaml:"project_path"`
	DefaultAutonomyLevel task.AutonomyLevel `mapstructure:"default_autonomy_level" yaml:"default_autonomy_level"`
	CheckIntervalMs      int                `mapstructure:"check_interval_ms" yaml:"check_interval_ms"`
	AutoApproveThreshold int                `mapstructure:"auto_approve_threshold" yaml:"auto_approve_threshold"`
	MaxIdleMinutes       int                `mapstructure:"max_idle_minutes" yaml:"max_idle_minutes"`
	EnableAutoApproval   bool               `mapstructure:"enable_auto_approval" yaml:"enable_auto_approval"`

	Dialect  string `mapstructure:"dialect" yaml:"dialect"`
	DBPath   string `mapstructure:"db_path" yaml:"db_path"`
	LLMModel string `mapstructure:"llm_model" yaml:"llm_model"`
}

// CheckInterval returns CheckIntervalMs as a time.Duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// Default returns the built-in configuration baseline.
func Default() *Config {
	return &Config{
		ProjectID:            "default",
		DefaultAutonomyLevel: task.AutonomySupervised,
		CheckIntervalMs:      5000,
		AutoApproveThreshold: 80,
		MaxIdleMinutes:       30,
		EnableAutoApproval:   true,
		Dialect:              "sqlite",
		DBPath:               filepath.Join(ForemanDir, "foreman.db"),
		LLMModel:             "claude-sonnet-4-5",
	}
}

// Load reads .foreman/config.yaml under projectPath (if present),
// applies FOREMAN_*-prefixed environment overrides, and merges the
// result onto Default(). Fields absent from both file and environment
// keep their default value.
func Load(projectPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectPath, ForemanDir))
	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	for _, key := range []string{
		"project_id", "project_path", "default_autonomy_level", "check_interval_ms",
		"auto_approve_threshold", "max_idle_minutes", "enable_auto_approval",
		"dialect", "db_path", "llm_model",
	} {
		v.SetDefault(key, nil)
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, ferrors.ErrConfigInvalid("file", err.Error()).WithCause(err)
		}
	}

	var loaded Config
	if err := v.Unmarshal(&loaded); err != nil {
		return nil, ferrors.ErrConfigInvalid("unmarshal", err.Error()).WithCause(err)
	}

	if err := mergo.Merge(cfg, loaded, mergo.WithOverride); err != nil {
		return nil, ferrors.ErrConfigInvalid("merge", err.Error()).WithCause(err)
	}
	if cfg.ProjectPath == "" {
		cfg.ProjectPath = projectPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the structural invariants the spec places on the
// supervisor configuration.
func (c *Config) Validate() error {
	if c.CheckIntervalMs <= 0 {
		return ferrors.ErrConfigInvalid("check_interval_ms", "must be > 0")
	}
	if c.MaxIdleMinutes <= 0 {
		return ferrors.ErrConfigInvalid("max_idle_minutes", "must be > 0")
	}
	if c.AutoApproveThreshold < 0 || c.AutoApproveThreshold > 100 {
		return ferrors.ErrConfigInvalid("auto_approve_threshold", "must be between 0 and 100")
	}
	switch c.DefaultAutonomyLevel {
	case task.AutonomyAuto, task.AutonomySupervised, task.AutonomyApprovalGates:
	default:
		return ferrors.ErrConfigInvalid("default_autonomy_level", fmt.Sprintf("unrecognized level %q", c.DefaultAutonomyLevel))
	}
	switch c.Dialect {
	case "sqlite", "postgres":
	default:
		return ferrors.ErrConfigInvalid("dialect", fmt.Sprintf("unrecognized dialect %q", c.Dialect))
	}
	return nil
}

// IsInitializedAt reports whether ForemanDir exists under basePath.
func IsInitializedAt(basePath string) bool {
	_, err := os.Stat(filepath.Join(basePath, ForemanDir))
	return err == nil
}

// RequireInitAt returns an error unless ForemanDir exists under basePath.
func RequireInitAt(basePath string) error {
	if !IsInitializedAt(basePath) {
		return fmt.Errorf("not a foreman project (no %s directory). Run 'foreman project init' first", ForemanDir)
	}
	return nil
}
