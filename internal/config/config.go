// Package config loads the wise-magpie TOML configuration and resolves the
// config directory layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

// Config directory layout.
const (
	ConfigFileName = "config.toml"
	DBFileName     = "assistant-tasks.db"
	PidFileName    = "assistant.pid"
	LogFileName    = "assistant.log"
)

// EnvConfigDir overrides the config directory when set.
const EnvConfigDir = "WISE_MAGPIE_CONFIG_DIR"

// Defaults.
const (
	DefaultWindowHours          = 5
	DefaultSafetyMargin         = 0.15
	DefaultMaxTaskUSD           = 2.0
	DefaultMaxDailyUSD          = 10.0
	DefaultIdleThresholdMinutes = 30
	DefaultReturnBufferMinutes  = 15
	DefaultPollIntervalSeconds  = 60
	DefaultAutoSyncMinutes      = 30
)

// QuotaLimits holds per-tier message limits for one window.
type QuotaLimits struct {
	Opus   int `toml:"opus"`
	Sonnet int `toml:"sonnet"`
	Haiku  int `toml:"haiku"`
}

// QuotaConfig configures the rolling quota window.
type QuotaConfig struct {
	WindowHours  int         `toml:"window_hours"`
	SafetyMargin float64     `toml:"safety_margin"`
	Limits       QuotaLimits `toml:"limits"`
}

// BudgetConfig caps autonomous spending.
type BudgetConfig struct {
	MaxTaskUSD  float64 `toml:"max_task_usd"`
	MaxDailyUSD float64 `toml:"max_daily_usd"`
}

// ActivityConfig tunes idle detection.
type ActivityConfig struct {
	IdleThresholdMinutes int `toml:"idle_threshold_minutes"`
	ReturnBufferMinutes  int `toml:"return_buffer_minutes"`
}

// DaemonConfig tunes the scheduler loop.
type DaemonConfig struct {
	PollInterval            int `toml:"poll_interval"`
	AutoSyncIntervalMinutes int `toml:"auto_sync_interval_minutes"`
}

// AssistantConfig controls the Assistant CLI invocation.
type AssistantConfig struct {
	Model           string   `toml:"model"`
	AutoSelectModel bool     `toml:"auto_select_model"`
	ExtraFlags      []string `toml:"extra_flags"`
}

// TemplateOverride is a per-template override under [auto_tasks.<type>].
type TemplateOverride struct {
	Enabled       *bool `toml:"enabled"`
	IntervalHours *int  `toml:"interval_hours"`
	MinCommits    *int  `toml:"min_commits"`
}

// AutoTasksConfig controls the auto-template task source.
type AutoTasksConfig struct {
	Enabled   bool   `toml:"enabled"`
	WorkDir   string `toml:"work_dir"`
	Overrides map[string]TemplateOverride
}

// Config is the full wise-magpie configuration.
type Config struct {
	Quota     QuotaConfig     `toml:"quota"`
	Budget    BudgetConfig    `toml:"budget"`
	Activity  ActivityConfig  `toml:"activity"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Assistant AssistantConfig `toml:"assistant"`
	AutoTasks AutoTasksConfig `toml:"auto_tasks"`
}

// envOverrides are applied on top of the TOML file with prefix WISE_MAGPIE.
type envOverrides struct {
	Model           string `envconfig:"MODEL"`
	AutoSelectModel *bool  `envconfig:"AUTO_SELECT_MODEL"`
	PollInterval    int    `envconfig:"POLL_INTERVAL"`
	WorkDir         string `envconfig:"WORK_DIR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Quota: QuotaConfig{
			WindowHours:  DefaultWindowHours,
			SafetyMargin: DefaultSafetyMargin,
			Limits: QuotaLimits{
				Opus:   models.DefaultQuotaLimits[models.ModelOpus],
				Sonnet: models.DefaultQuotaLimits[models.ModelSonnet],
				Haiku:  models.DefaultQuotaLimits[models.ModelHaiku],
			},
		},
		Budget: BudgetConfig{
			MaxTaskUSD:  DefaultMaxTaskUSD,
			MaxDailyUSD: DefaultMaxDailyUSD,
		},
		Activity: ActivityConfig{
			IdleThresholdMinutes: DefaultIdleThresholdMinutes,
			ReturnBufferMinutes:  DefaultReturnBufferMinutes,
		},
		Daemon: DaemonConfig{
			PollInterval:            DefaultPollIntervalSeconds,
			AutoSyncIntervalMinutes: DefaultAutoSyncMinutes,
		},
		Assistant: AssistantConfig{
			Model:           models.TierSonnet,
			AutoSelectModel: true,
		},
		AutoTasks: AutoTasksConfig{
			Enabled: false,
			WorkDir: ".",
		},
	}
}

// Dir returns the config directory, honoring WISE_MAGPIE_CONFIG_DIR.
func Dir() (string, error) {
	if explicit := os.Getenv(EnvConfigDir); explicit != "" {
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "wise-magpie"), nil
}

// EnsureDir returns the config directory, creating it if needed.
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Path returns the path of a file inside the config directory.
func Path(name string) (string, error) {
	dir, err := EnsureDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Load reads config.toml if present, falling back to defaults, and applies
// WISE_MAGPIE_* environment overrides.
func Load() (*Config, error) {
	path, err := Path(ConfigFileName)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No file: defaults plus env.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if err := decodeTemplateOverrides(data, cfg); err != nil {
			return nil, err
		}
	}
	var env envOverrides
	if err := envconfig.Process("WISE_MAGPIE", &env); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	applyEnv(cfg, env)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeTemplateOverrides pulls the free-form [auto_tasks.<type>] tables out
// of the raw document; the typed struct only captures the fixed keys.
func decodeTemplateOverrides(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	section, ok := raw["auto_tasks"].(map[string]any)
	if !ok {
		return nil
	}
	for key, val := range section {
		table, ok := val.(map[string]any)
		if !ok {
			continue
		}
		var ov TemplateOverride
		if v, ok := table["enabled"].(bool); ok {
			ov.Enabled = &v
		}
		if v, ok := table["interval_hours"].(int64); ok {
			n := int(v)
			ov.IntervalHours = &n
		}
		if v, ok := table["min_commits"].(int64); ok {
			n := int(v)
			ov.MinCommits = &n
		}
		if cfg.AutoTasks.Overrides == nil {
			cfg.AutoTasks.Overrides = make(map[string]TemplateOverride)
		}
		cfg.AutoTasks.Overrides[key] = ov
	}
	return nil
}

func applyEnv(cfg *Config, env envOverrides) {
	if env.Model != "" {
		cfg.Assistant.Model = env.Model
	}
	if env.AutoSelectModel != nil {
		cfg.Assistant.AutoSelectModel = *env.AutoSelectModel
	}
	if env.PollInterval > 0 {
		cfg.Daemon.PollInterval = env.PollInterval
	}
	if env.WorkDir != "" {
		cfg.AutoTasks.WorkDir = env.WorkDir
	}
}

func (c *Config) validate() error {
	if c.Quota.WindowHours <= 0 {
		return fmt.Errorf("quota.window_hours must be positive, got %d", c.Quota.WindowHours)
	}
	if c.Quota.SafetyMargin < 0 || c.Quota.SafetyMargin >= 1 {
		return fmt.Errorf("quota.safety_margin must be in [0,1), got %g", c.Quota.SafetyMargin)
	}
	if c.Daemon.PollInterval <= 0 {
		return fmt.Errorf("daemon.poll_interval must be positive, got %d", c.Daemon.PollInterval)
	}
	if c.Budget.MaxTaskUSD < 0 || c.Budget.MaxDailyUSD < 0 {
		return fmt.Errorf("budget limits must be non-negative")
	}
	return nil
}

// QuotaLimit returns the configured per-window limit for a model id.
func (c *Config) QuotaLimit(model string) int {
	switch models.ResolveModel(model) {
	case models.ModelOpus:
		if c.Quota.Limits.Opus > 0 {
			return c.Quota.Limits.Opus
		}
	case models.ModelSonnet:
		if c.Quota.Limits.Sonnet > 0 {
			return c.Quota.Limits.Sonnet
		}
	case models.ModelHaiku:
		if c.Quota.Limits.Haiku > 0 {
			return c.Quota.Limits.Haiku
		}
	}
	if n, ok := models.DefaultQuotaLimits[models.ResolveModel(model)]; ok {
		return n
	}
	return models.DefaultQuotaLimits[models.DefaultModel]
}
