package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)
	if content != "" {
		path := filepath.Join(dir, ConfigFileName)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	writeConfig(t, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Quota.WindowHours != DefaultWindowHours {
		t.Errorf("Expected default window hours, got %d", cfg.Quota.WindowHours)
	}
	if cfg.Quota.Limits.Sonnet != 225 {
		t.Errorf("Expected default sonnet limit 225, got %d", cfg.Quota.Limits.Sonnet)
	}
	if !cfg.Assistant.AutoSelectModel {
		t.Error("Auto model selection should default on")
	}
	if cfg.AutoTasks.Enabled {
		t.Error("Auto tasks should default off")
	}
}

func TestLoadFile(t *testing.T) {
	writeConfig(t, `
[quota]
window_hours = 6
safety_margin = 0.2

[quota.limits]
sonnet = 300

[budget]
max_task_usd = 1.0
max_daily_usd = 5.0

[assistant]
model = "opus"
auto_select_model = false
extra_flags = ["--verbose"]

[auto_tasks]
enabled = true
work_dir = "/srv/project"

[auto_tasks.run_tests]
enabled = false

[auto_tasks.lint_check]
interval_hours = 6

[auto_tasks.clean_commits]
min_commits = 3
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Quota.WindowHours != 6 || cfg.Quota.SafetyMargin != 0.2 {
		t.Errorf("Quota section not applied: %+v", cfg.Quota)
	}
	if cfg.Quota.Limits.Sonnet != 300 {
		t.Errorf("Expected sonnet limit 300, got %d", cfg.Quota.Limits.Sonnet)
	}
	if cfg.Quota.Limits.Opus != 45 {
		t.Errorf("Unset limits keep their defaults, got %d", cfg.Quota.Limits.Opus)
	}
	if cfg.Budget.MaxTaskUSD != 1.0 || cfg.Budget.MaxDailyUSD != 5.0 {
		t.Errorf("Budget section not applied: %+v", cfg.Budget)
	}
	if cfg.Assistant.Model != "opus" || cfg.Assistant.AutoSelectModel {
		t.Errorf("Assistant section not applied: %+v", cfg.Assistant)
	}
	if len(cfg.Assistant.ExtraFlags) != 1 || cfg.Assistant.ExtraFlags[0] != "--verbose" {
		t.Errorf("Extra flags not applied: %v", cfg.Assistant.ExtraFlags)
	}
	if !cfg.AutoTasks.Enabled || cfg.AutoTasks.WorkDir != "/srv/project" {
		t.Errorf("Auto tasks section not applied: %+v", cfg.AutoTasks)
	}

	ov, ok := cfg.AutoTasks.Overrides["run_tests"]
	if !ok || ov.Enabled == nil || *ov.Enabled {
		t.Errorf("run_tests override missing or wrong: %+v", ov)
	}
	ov = cfg.AutoTasks.Overrides["lint_check"]
	if ov.IntervalHours == nil || *ov.IntervalHours != 6 {
		t.Errorf("lint_check interval override missing: %+v", ov)
	}
	ov = cfg.AutoTasks.Overrides["clean_commits"]
	if ov.MinCommits == nil || *ov.MinCommits != 3 {
		t.Errorf("clean_commits min_commits override missing: %+v", ov)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	writeConfig(t, `
[assistant]
model = "sonnet"
`)
	t.Setenv("WISE_MAGPIE_MODEL", "haiku")
	t.Setenv("WISE_MAGPIE_AUTO_SELECT_MODEL", "false")
	t.Setenv("WISE_MAGPIE_POLL_INTERVAL", "30")
	t.Setenv("WISE_MAGPIE_WORK_DIR", "/tmp/work")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Assistant.Model != "haiku" {
		t.Errorf("Env model override not applied, got %s", cfg.Assistant.Model)
	}
	if cfg.Assistant.AutoSelectModel {
		t.Error("Env auto_select_model override not applied")
	}
	if cfg.Daemon.PollInterval != 30 {
		t.Errorf("Env poll interval override not applied, got %d", cfg.Daemon.PollInterval)
	}
	if cfg.AutoTasks.WorkDir != "/tmp/work" {
		t.Errorf("Env work dir override not applied, got %s", cfg.AutoTasks.WorkDir)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"zero window", "[quota]\nwindow_hours = 0\n"},
		{"margin too high", "[quota]\nsafety_margin = 1.5\n"},
		{"zero poll", "[daemon]\npoll_interval = 0\n"},
		{"negative budget", "[budget]\nmax_daily_usd = -1.0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writeConfig(t, tc.toml)
			if _, err := Load(); err == nil {
				t.Errorf("Expected validation error for %s", tc.name)
			}
		})
	}
}

func TestQuotaLimit(t *testing.T) {
	cfg := Default()
	cfg.Quota.Limits.Sonnet = 300

	if got := cfg.QuotaLimit("sonnet"); got != 300 {
		t.Errorf("Expected configured limit 300, got %d", got)
	}
	if got := cfg.QuotaLimit(models.ModelSonnet); got != 300 {
		t.Errorf("Full model id should resolve to the same limit, got %d", got)
	}
	if got := cfg.QuotaLimit("opus"); got != 45 {
		t.Errorf("Expected default opus limit 45, got %d", got)
	}
	if got := cfg.QuotaLimit("unknown-model"); got != 225 {
		t.Errorf("Unknown models fall back to the default tier limit, got %d", got)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvConfigDir, dir)

	path, err := Init(false)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Reading generated config failed: %v", err)
	}
	if !strings.Contains(string(data), "safety_margin") {
		t.Error("Generated config missing expected keys")
	}

	// The generated file round-trips through Load.
	if _, err := Load(); err != nil {
		t.Errorf("Generated config should load cleanly: %v", err)
	}

	if _, err := Init(false); err == nil {
		t.Error("Init should refuse to overwrite without force")
	}
	if _, err := Init(true); err != nil {
		t.Errorf("Forced init should overwrite: %v", err)
	}
}
