// Package priority scores tasks so the most valuable pending work is
// dispatched first.
package priority

import (
	"strings"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

// Base scores by task origin. Operator-created work outranks harvested work.
var sourceBase = map[models.TaskSource]float64{
	models.SourceManual:       40,
	models.SourceQueueFile:    35,
	models.SourceIssue:        30,
	models.SourceAutoTemplate: 25,
	models.SourceCodeComment:  20,
	models.SourceMarkdown:     15,
}

// keywordBoost is an additive bonus applied when any of its keywords appears
// in the task text. All matching boosts stack.
type keywordBoost struct {
	keywords []string
	bonus    float64
}

var boosts = []keywordBoost{
	{[]string{"security", "vulnerability"}, 30},
	{[]string{"bug", "fix", "crash", "error"}, 25},
	{[]string{"fixme"}, 20},
	{[]string{"performance"}, 15},
	{[]string{"hack", "xxx"}, 15},
	{[]string{"refactor", "cleanup"}, 10},
	{[]string{"test"}, 8},
	{[]string{"docs"}, 5},
}

// Short descriptions earn up to this many extra points; the bonus decays
// linearly to zero at this character count.
const (
	brevityBonusMax = 15.0
	brevityCutoff   = 200
)

// Score computes a task's priority in [0, 100] from its source and the
// keywords in its title and description.
func Score(task *models.Task) float64 {
	score := sourceBase[task.Source]

	text := strings.ToLower(task.Title + " " + task.Description)
	for _, b := range boosts {
		for _, kw := range b.keywords {
			if strings.Contains(text, kw) {
				score += b.bonus
				break
			}
		}
	}

	if n := len(task.Description); n < brevityCutoff {
		score += brevityBonusMax * float64(brevityCutoff-n) / float64(brevityCutoff)
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
