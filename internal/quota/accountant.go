// Package quota tracks per-model message consumption within the rolling
// window and decides whether autonomous dispatch is admitted.
package quota

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/models"
)

// WindowStore is the slice of the store the accountant needs.
type WindowStore interface {
	GetQuotaWindow(windowHours int) (*models.QuotaWindow, error)
	RollQuotaWindow(newStart time.Time) error
	AddQuotaConsumption(model string, delta int) error
	SetQuotaConsumed(model string, consumed int, correctedAt time.Time) error
}

// Accountant enforces the quota safety margin over the rolling window.
type Accountant struct {
	store WindowStore
	cfg   *config.Config
	log   *slog.Logger
}

// NewAccountant creates an accountant bound to the store and config.
func NewAccountant(store WindowStore, cfg *config.Config, log *slog.Logger) *Accountant {
	return &Accountant{store: store, cfg: cfg, log: log}
}

// Window returns the current quota window.
func (a *Accountant) Window() (*models.QuotaWindow, error) {
	return a.store.GetQuotaWindow(a.cfg.Quota.WindowHours)
}

// autonomousLimit is the portion of a model's limit available to the daemon
// after the safety margin is reserved for interactive use.
func (a *Accountant) autonomousLimit(model string) int {
	limit := a.cfg.QuotaLimit(model)
	return int(float64(limit) * (1 - a.cfg.Quota.SafetyMargin))
}

// Remaining returns how many autonomous messages the model has left in the
// current window.
func (a *Accountant) Remaining(model string) (int, error) {
	window, err := a.Window()
	if err != nil {
		return 0, err
	}
	model = models.ResolveModel(model)
	remaining := a.autonomousLimit(model) - window.Consumed[model]
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RemainingFraction returns Remaining as a fraction of the model's full
// limit, used by the upgrade policy.
func (a *Accountant) RemainingFraction(model string) (float64, error) {
	remaining, err := a.Remaining(model)
	if err != nil {
		return 0, err
	}
	limit := a.cfg.QuotaLimit(model)
	if limit == 0 {
		return 0, nil
	}
	return float64(remaining) / float64(limit), nil
}

// Admits reports whether at least one autonomous message is available for
// the model.
func (a *Accountant) Admits(model string) (bool, error) {
	remaining, err := a.Remaining(model)
	if err != nil {
		return false, err
	}
	return remaining >= 1, nil
}

// Consume increments the consumed count after a successful dispatch.
func (a *Accountant) Consume(model string, n int) error {
	return a.store.AddQuotaConsumption(models.ResolveModel(model), n)
}

// Refund returns messages to the window after a dispatch failure.
func (a *Accountant) Refund(model string, n int) error {
	return a.store.AddQuotaConsumption(models.ResolveModel(model), -n)
}

// Correct sets the consumed count so the computed remaining matches the
// operator-provided value.
func (a *Accountant) Correct(model string, remainingMessages int) error {
	if remainingMessages < 0 {
		return fmt.Errorf("remaining messages must be non-negative, got %d", remainingMessages)
	}
	if _, err := a.Window(); err != nil {
		return err
	}
	model = models.ResolveModel(model)
	consumed := a.autonomousLimit(model) - remainingMessages
	if consumed < 0 {
		consumed = 0
	}
	return a.store.SetQuotaConsumed(model, consumed, time.Now().UTC())
}

// TimeLeft returns how much of the current window remains at now.
func (a *Accountant) TimeLeft(now time.Time) (time.Duration, error) {
	window, err := a.Window()
	if err != nil {
		return 0, err
	}
	end := window.StartedAt.Add(time.Duration(window.WindowHours) * time.Hour)
	left := end.Sub(now)
	if left < 0 {
		left = 0
	}
	return left, nil
}

// RollIfDue resets the window when its length has elapsed, advancing the
// start by whole windows until it covers now.
func (a *Accountant) RollIfDue(now time.Time) (bool, error) {
	window, err := a.Window()
	if err != nil {
		return false, err
	}
	length := time.Duration(window.WindowHours) * time.Hour
	if now.Sub(window.StartedAt) < length {
		return false, nil
	}
	start := window.StartedAt
	for now.Sub(start) >= length {
		start = start.Add(length)
	}
	if err := a.store.RollQuotaWindow(start); err != nil {
		return false, err
	}
	a.log.Info("quota window rolled", "new_start", start)
	return true, nil
}
