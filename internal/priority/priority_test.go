package priority

import (
	"strings"
	"testing"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

func TestSourceOrdering(t *testing.T) {
	// With identical text, manual work must outrank every harvested source.
	order := []models.TaskSource{
		models.SourceManual,
		models.SourceQueueFile,
		models.SourceIssue,
		models.SourceAutoTemplate,
		models.SourceCodeComment,
		models.SourceMarkdown,
	}
	prev := 101.0
	for _, src := range order {
		score := Score(&models.Task{Title: "untitled", Source: src})
		if score >= prev {
			t.Errorf("Source %s scored %.1f, expected below %.1f", src, score, prev)
		}
		prev = score
	}
}

func TestKeywordBoosts(t *testing.T) {
	base := Score(&models.Task{Title: "adjust widget", Source: models.SourceManual})

	cases := []struct {
		title string
		boost float64
	}{
		{"patch security hole", 30},
		{"fix widget", 25},
		{"FIXME widget alignment", 20 + 25}, // "fixme" contains "fix"
		{"improve performance", 15},
		{"refactor widget", 10},
		{"update docs", 5},
	}
	for _, tc := range cases {
		got := Score(&models.Task{Title: tc.title, Source: models.SourceManual})
		want := base + tc.boost
		if got != want {
			t.Errorf("Score(%q) = %.1f, want %.1f", tc.title, got, want)
		}
	}
}

func TestBoostsStack(t *testing.T) {
	plain := Score(&models.Task{Title: "widget", Source: models.SourceMarkdown})
	stacked := Score(&models.Task{Title: "fix security bug", Source: models.SourceMarkdown})
	if stacked != plain+30+25 {
		t.Errorf("Expected security and bug boosts to stack: plain %.1f, stacked %.1f", plain, stacked)
	}
}

func TestBrevityBonus(t *testing.T) {
	short := Score(&models.Task{Title: "widget", Source: models.SourceManual, Description: "tiny"})
	long := Score(&models.Task{
		Title:       "widget",
		Source:      models.SourceManual,
		Description: strings.Repeat("a", 300),
	})
	if short <= long {
		t.Errorf("Short description should outrank long: %.1f vs %.1f", short, long)
	}
}

func TestScoreClamped(t *testing.T) {
	task := &models.Task{
		Title:  "fix security vulnerability bug crash FIXME HACK performance refactor test docs",
		Source: models.SourceManual,
	}
	if got := Score(task); got != 100 {
		t.Errorf("Score should clamp at 100, got %.1f", got)
	}
}

func TestMatchingIsCaseInsensitive(t *testing.T) {
	lower := Score(&models.Task{Title: "security widget", Source: models.SourceManual})
	upper := Score(&models.Task{Title: "SECURITY widget", Source: models.SourceManual})
	if lower != upper {
		t.Errorf("Case should not matter: %.1f vs %.1f", lower, upper)
	}
}
