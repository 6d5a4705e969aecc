// Package budget caps autonomous dollar spend per task and per day.
package budget

import (
	"log/slog"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/models"
)

// SpendStore is the slice of the store the accountant needs.
type SpendStore interface {
	DailyAutonomousCost(t time.Time) (float64, error)
	RecordUsage(rec *models.UsageRecord) (int64, error)
}

// Accountant enforces the per-task and per-day spend limits.
type Accountant struct {
	store SpendStore
	cfg   *config.Config
	log   *slog.Logger
}

// NewAccountant creates a budget accountant bound to the store and config.
func NewAccountant(store SpendStore, cfg *config.Config, log *slog.Logger) *Accountant {
	return &Accountant{store: store, cfg: cfg, log: log}
}

// DailySpent returns the autonomous spend so far for the UTC day containing
// now.
func (a *Accountant) DailySpent(now time.Time) (float64, error) {
	return a.store.DailyAutonomousCost(now)
}

// DailyRemaining returns how much of the daily cap is left.
func (a *Accountant) DailyRemaining(now time.Time) (float64, error) {
	spent, err := a.DailySpent(now)
	if err != nil {
		return 0, err
	}
	remaining := a.cfg.Budget.MaxDailyUSD - spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// AdmitsTask reports whether a task with the given estimated cost fits under
// both limits. A zero estimate is admitted as long as the daily cap is not
// already exhausted.
func (a *Accountant) AdmitsTask(now time.Time, estimatedUSD float64) (bool, error) {
	if estimatedUSD > a.cfg.Budget.MaxTaskUSD {
		return false, nil
	}
	spent, err := a.DailySpent(now)
	if err != nil {
		return false, err
	}
	return spent+estimatedUSD <= a.cfg.Budget.MaxDailyUSD, nil
}

// TaskBudget returns the dollar ceiling for the next task: the per-task cap,
// reduced to whatever is left of the daily cap.
func (a *Accountant) TaskBudget(now time.Time) (float64, error) {
	remaining, err := a.DailyRemaining(now)
	if err != nil {
		return 0, err
	}
	if remaining < a.cfg.Budget.MaxTaskUSD {
		return remaining, nil
	}
	return a.cfg.Budget.MaxTaskUSD, nil
}

// Record persists the actual cost of a finished autonomous invocation.
func (a *Accountant) Record(rec *models.UsageRecord) error {
	rec.Autonomous = true
	if _, err := a.store.RecordUsage(rec); err != nil {
		return err
	}
	a.log.Debug("recorded autonomous spend",
		"model", rec.Model, "cost_usd", rec.CostUSD, "task_id", rec.TaskID)
	return nil
}
