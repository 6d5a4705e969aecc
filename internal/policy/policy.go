// Package policy classifies task difficulty and picks the model tier for a
// dispatch, including opportunistic upgrades and quota-driven downgrades.
package policy

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/models"
)

// Difficulty is a coarse estimate of how capable a model a task needs.
type Difficulty string

const (
	DifficultySimple  Difficulty = "simple"
	DifficultyMedium  Difficulty = "medium"
	DifficultyComplex Difficulty = "complex"
)

var complexKeywords = []string{"security", "vulnerability", "architecture", "migration", "performance"}

var simpleKeywords = []string{"docs", "lint", "format", "typo", "clean", "dead code", "changelog"}

// Classify estimates difficulty from the task text. Complex markers win over
// simple ones.
func Classify(task *models.Task) Difficulty {
	text := strings.ToLower(task.Title + " " + task.Description)
	for _, kw := range complexKeywords {
		if strings.Contains(text, kw) {
			return DifficultyComplex
		}
	}
	for _, kw := range simpleKeywords {
		if strings.Contains(text, kw) {
			return DifficultySimple
		}
	}
	return DifficultyMedium
}

// TierFor maps a difficulty to its default model tier.
func TierFor(d Difficulty) string {
	switch d {
	case DifficultySimple:
		return models.ModelHaiku
	case DifficultyComplex:
		return models.ModelOpus
	default:
		return models.ModelSonnet
	}
}

// Upgrade and downgrade tuning.
const (
	// A window this close to rolling is "use it or lose it".
	expiryUpgradeCutoff = 90 * time.Minute
	// Minimum remaining fraction of the current tier's limit to upgrade on
	// window expiry.
	expiryUpgradeMinFraction = 0.30

	// Predicted idle at least this long invites a more capable model.
	idleUpgradeMinutes     = 360
	idleForecastHorizonHrs = 8
	// Minimum remaining fraction to upgrade on a long predicted idle.
	idleUpgradeMinFraction = 0.40

	// A dispatch may step down at most this many tiers.
	maxDowngradeSteps = 2
)

// ErrQuotaExhausted means no admissible tier exists, down to the lowest.
var ErrQuotaExhausted = errors.New("quota exhausted for all admissible tiers")

// QuotaView is the slice of the quota accountant the selector reads.
type QuotaView interface {
	Admits(model string) (bool, error)
	RemainingFraction(model string) (float64, error)
	TimeLeft(now time.Time) (time.Duration, error)
}

// IdleForecast predicts upcoming idle time.
type IdleForecast interface {
	LongestPredictedIdleWithin(now time.Time, horizonHours int) (int, error)
}

// Selector picks the model for each dispatch.
type Selector struct {
	cfg      *config.Config
	quota    QuotaView
	forecast IdleForecast
	log      *slog.Logger
}

// NewSelector creates a selector over the quota view and idle forecast.
func NewSelector(cfg *config.Config, quota QuotaView, forecast IdleForecast, log *slog.Logger) *Selector {
	return &Selector{cfg: cfg, quota: quota, forecast: forecast, log: log}
}

// Decision records how a model was chosen, for logging and review.
type Decision struct {
	Model      string
	Difficulty Difficulty
	Upgraded   bool
	Downgraded bool
}

// Select chooses the model for a task. A task with an explicit requested
// model keeps it (no upgrade) but still downgrades when its quota is
// exhausted; with auto-selection disabled, the configured model is pinned
// the same way. Returns ErrQuotaExhausted when nothing admissible remains
// within the allowed downgrade distance.
func (s *Selector) Select(task *models.Task, now time.Time) (Decision, error) {
	d := Decision{Difficulty: Classify(task)}

	switch {
	case task.RequestedModel != "":
		d.Model = models.ResolveModel(task.RequestedModel)
	case !s.cfg.Assistant.AutoSelectModel:
		d.Model = models.ResolveModel(s.cfg.Assistant.Model)
	default:
		d.Model = TierFor(d.Difficulty)
		upgraded, err := s.tryUpgrade(d.Model, now)
		if err != nil {
			return Decision{}, err
		}
		if upgraded != d.Model {
			s.log.Info("model upgraded", "task_id", task.ID,
				"from", models.ModelAlias(d.Model), "to", models.ModelAlias(upgraded))
			d.Model = upgraded
			d.Upgraded = true
		}
	}

	final, steps, err := s.downgradeToAdmissible(d.Model)
	if err != nil {
		return Decision{}, err
	}
	if steps > 0 {
		s.log.Info("model downgraded", "task_id", task.ID,
			"from", models.ModelAlias(d.Model), "to", models.ModelAlias(final), "steps", steps)
		d.Model = final
		d.Downgraded = true
	}
	return d, nil
}

// tryUpgrade returns the tier one step above model when an upgrade condition
// holds, otherwise model unchanged.
func (s *Selector) tryUpgrade(model string, now time.Time) (string, error) {
	idx := tierIndex(model)
	if idx < 0 || idx == len(models.Tiers)-1 {
		return model, nil
	}

	frac, err := s.quota.RemainingFraction(model)
	if err != nil {
		return "", err
	}

	left, err := s.quota.TimeLeft(now)
	if err != nil {
		return "", err
	}
	if left < expiryUpgradeCutoff && frac >= expiryUpgradeMinFraction {
		return models.Tiers[idx+1], nil
	}

	idleMinutes, err := s.forecast.LongestPredictedIdleWithin(now, idleForecastHorizonHrs)
	if err != nil {
		return "", err
	}
	if idleMinutes >= idleUpgradeMinutes && frac >= idleUpgradeMinFraction {
		return models.Tiers[idx+1], nil
	}
	return model, nil
}

// downgradeToAdmissible walks down from model until a tier with remaining
// quota is found, at most maxDowngradeSteps below the start.
func (s *Selector) downgradeToAdmissible(model string) (string, int, error) {
	idx := tierIndex(model)
	if idx < 0 {
		// Unknown model ids are dispatched as-is when admitted.
		ok, err := s.quota.Admits(model)
		if err != nil {
			return "", 0, err
		}
		if !ok {
			return "", 0, ErrQuotaExhausted
		}
		return model, 0, nil
	}

	for step := 0; step <= maxDowngradeSteps; step++ {
		i := idx - step
		if i < 0 {
			break
		}
		candidate := models.Tiers[i]
		ok, err := s.quota.Admits(candidate)
		if err != nil {
			return "", 0, err
		}
		if ok {
			return candidate, step, nil
		}
	}
	return "", 0, ErrQuotaExhausted
}

func tierIndex(model string) int {
	for i, t := range models.Tiers {
		if t == model {
			return i
		}
	}
	return -1
}
