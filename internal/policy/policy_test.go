package policy

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/models"
)

type fakeQuota struct {
	admits    map[string]bool
	fractions map[string]float64
	timeLeft  time.Duration
}

func (f *fakeQuota) Admits(model string) (bool, error) {
	ok, found := f.admits[model]
	return found && ok, nil
}

func (f *fakeQuota) RemainingFraction(model string) (float64, error) {
	return f.fractions[model], nil
}

func (f *fakeQuota) TimeLeft(time.Time) (time.Duration, error) {
	return f.timeLeft, nil
}

type fakeForecast struct{ idleMinutes int }

func (f *fakeForecast) LongestPredictedIdleWithin(time.Time, int) (int, error) {
	return f.idleMinutes, nil
}

func allAdmitted() map[string]bool {
	return map[string]bool{
		models.ModelHaiku:  true,
		models.ModelSonnet: true,
		models.ModelOpus:   true,
	}
}

func testSelector(q *fakeQuota, f *fakeForecast) *Selector {
	return testSelectorCfg(config.Default(), q, f)
}

func testSelectorCfg(cfg *config.Config, q *fakeQuota, f *fakeForecast) *Selector {
	return NewSelector(cfg, q, f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		title string
		want  Difficulty
	}{
		{"audit security of login", DifficultyComplex},
		{"database migration for orders", DifficultyComplex},
		{"improve performance of parser", DifficultyComplex},
		{"update docs for API", DifficultySimple},
		{"fix typo in README", DifficultySimple},
		{"remove dead code paths", DifficultySimple},
		{"add retry to HTTP client", DifficultyMedium},
		// Complex markers win over simple ones.
		{"update docs on security model", DifficultyComplex},
	}
	for _, tc := range cases {
		got := Classify(&models.Task{Title: tc.title})
		if got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.title, got, tc.want)
		}
	}
}

func TestTierFor(t *testing.T) {
	if TierFor(DifficultySimple) != models.ModelHaiku {
		t.Error("simple should map to haiku")
	}
	if TierFor(DifficultyMedium) != models.ModelSonnet {
		t.Error("medium should map to sonnet")
	}
	if TierFor(DifficultyComplex) != models.ModelOpus {
		t.Error("complex should map to opus")
	}
}

func TestSelectDefault(t *testing.T) {
	q := &fakeQuota{admits: allAdmitted(), fractions: map[string]float64{}, timeLeft: 4 * time.Hour}
	sel := testSelector(q, &fakeForecast{idleMinutes: 60})

	d, err := sel.Select(&models.Task{Title: "add retry to HTTP client"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelSonnet || d.Upgraded || d.Downgraded {
		t.Errorf("Expected plain sonnet selection, got %+v", d)
	}
}

func TestUpgradeOnExpiringWindow(t *testing.T) {
	// Window nearly over and plenty of sonnet quota left: spend it on opus.
	q := &fakeQuota{
		admits:    allAdmitted(),
		fractions: map[string]float64{models.ModelSonnet: 0.5},
		timeLeft:  time.Hour,
	}
	sel := testSelector(q, &fakeForecast{idleMinutes: 0})

	d, err := sel.Select(&models.Task{Title: "add retry to HTTP client"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelOpus || !d.Upgraded {
		t.Errorf("Expected upgrade to opus, got %+v", d)
	}
}

func TestNoUpgradeWhenQuotaLow(t *testing.T) {
	q := &fakeQuota{
		admits:    allAdmitted(),
		fractions: map[string]float64{models.ModelSonnet: 0.2},
		timeLeft:  time.Hour,
	}
	sel := testSelector(q, &fakeForecast{idleMinutes: 0})

	d, err := sel.Select(&models.Task{Title: "add retry to HTTP client"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelSonnet {
		t.Errorf("Expected no upgrade at 20%% remaining, got %+v", d)
	}
}

func TestUpgradeOnLongPredictedIdle(t *testing.T) {
	q := &fakeQuota{
		admits:    allAdmitted(),
		fractions: map[string]float64{models.ModelSonnet: 0.5},
		timeLeft:  4 * time.Hour,
	}
	sel := testSelector(q, &fakeForecast{idleMinutes: 400})

	d, err := sel.Select(&models.Task{Title: "add retry to HTTP client"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelOpus || !d.Upgraded {
		t.Errorf("Expected idle-driven upgrade, got %+v", d)
	}
}

func TestDowngradeWhenExhausted(t *testing.T) {
	q := &fakeQuota{
		admits: map[string]bool{
			models.ModelOpus:   false,
			models.ModelSonnet: false,
			models.ModelHaiku:  true,
		},
		fractions: map[string]float64{},
		timeLeft:  4 * time.Hour,
	}
	sel := testSelector(q, &fakeForecast{})

	d, err := sel.Select(&models.Task{Title: "security audit of auth"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelHaiku || !d.Downgraded {
		t.Errorf("Expected two-step downgrade to haiku, got %+v", d)
	}
}

func TestAllTiersExhausted(t *testing.T) {
	q := &fakeQuota{admits: map[string]bool{}, fractions: map[string]float64{}, timeLeft: 4 * time.Hour}
	sel := testSelector(q, &fakeForecast{})

	_, err := sel.Select(&models.Task{Title: "add retry"}, time.Now())
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Errorf("Expected ErrQuotaExhausted, got %v", err)
	}
}

func TestForcedModelSkipsUpgrade(t *testing.T) {
	// Upgrade conditions hold, but the operator pinned haiku.
	q := &fakeQuota{
		admits:    allAdmitted(),
		fractions: map[string]float64{models.ModelHaiku: 0.9},
		timeLeft:  time.Hour,
	}
	sel := testSelector(q, &fakeForecast{idleMinutes: 400})

	d, err := sel.Select(&models.Task{Title: "anything", RequestedModel: "haiku"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelHaiku || d.Upgraded {
		t.Errorf("Forced model must not upgrade, got %+v", d)
	}
}

func TestAutoSelectDisabledPinsConfiguredModel(t *testing.T) {
	// With auto-selection off, a medium task runs on the configured model
	// instead of its difficulty tier, and never upgrades.
	cfg := config.Default()
	cfg.Assistant.AutoSelectModel = false
	cfg.Assistant.Model = "opus"
	q := &fakeQuota{
		admits:    allAdmitted(),
		fractions: map[string]float64{models.ModelOpus: 0.9},
		timeLeft:  time.Hour,
	}
	sel := testSelectorCfg(cfg, q, &fakeForecast{idleMinutes: 400})

	d, err := sel.Select(&models.Task{Title: "add retry to HTTP client"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelOpus || d.Upgraded {
		t.Errorf("Expected configured opus, got %+v", d)
	}
}

func TestAutoSelectDisabledStillDowngrades(t *testing.T) {
	cfg := config.Default()
	cfg.Assistant.AutoSelectModel = false
	cfg.Assistant.Model = "opus"
	q := &fakeQuota{
		admits: map[string]bool{
			models.ModelOpus:   false,
			models.ModelSonnet: true,
			models.ModelHaiku:  true,
		},
		fractions: map[string]float64{},
		timeLeft:  4 * time.Hour,
	}
	sel := testSelectorCfg(cfg, q, &fakeForecast{})

	d, err := sel.Select(&models.Task{Title: "anything"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelSonnet || !d.Downgraded {
		t.Errorf("Configured model should still downgrade on exhaustion, got %+v", d)
	}
}

func TestRequestedModelBeatsConfiguredModel(t *testing.T) {
	cfg := config.Default()
	cfg.Assistant.AutoSelectModel = false
	cfg.Assistant.Model = "opus"
	q := &fakeQuota{admits: allAdmitted(), fractions: map[string]float64{}, timeLeft: 4 * time.Hour}
	sel := testSelectorCfg(cfg, q, &fakeForecast{})

	d, err := sel.Select(&models.Task{Title: "anything", RequestedModel: "haiku"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelHaiku {
		t.Errorf("Per-task model should win over the configured one, got %+v", d)
	}
}

func TestForcedModelStillDowngrades(t *testing.T) {
	q := &fakeQuota{
		admits: map[string]bool{
			models.ModelOpus:   false,
			models.ModelSonnet: true,
			models.ModelHaiku:  true,
		},
		fractions: map[string]float64{},
		timeLeft:  4 * time.Hour,
	}
	sel := testSelector(q, &fakeForecast{})

	d, err := sel.Select(&models.Task{Title: "anything", RequestedModel: "opus"}, time.Now())
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if d.Model != models.ModelSonnet || !d.Downgraded {
		t.Errorf("Forced model should still downgrade on exhaustion, got %+v", d)
	}
}
