package tasksrc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/models"
)

// Template describes one kind of recurring maintenance task and the
// conditions under which it fires.
type Template struct {
	Type        string
	Title       string
	Description string

	IntervalHours    int
	MinCommits       int
	NeedsCodeChanges bool
	NeedsNewCommits  bool
}

// BuiltinTemplates is the full set of recurring maintenance tasks.
var BuiltinTemplates = []Template{
	{
		Type:            "run_tests",
		Title:           "Run test suite",
		Description:     "Run the full test suite, investigate any failures, and fix broken tests.",
		IntervalHours:   24,
		NeedsNewCommits: true,
	},
	{
		Type:             "update_docs",
		Title:            "Update documentation",
		Description:      "Review recent code changes and update README or other documentation to stay in sync.",
		IntervalHours:    48,
		NeedsCodeChanges: true,
	},
	{
		Type:        "clean_commits",
		Title:       "Clean up commit history",
		Description: "Review the current branch commits, squash fixups, and improve commit messages.",
		MinCommits:  10,
	},
	{
		Type:             "lint_check",
		Title:            "Run linter and fix issues",
		Description:      "Run the project linter, auto-fix where possible, and address remaining warnings.",
		IntervalHours:    12,
		NeedsCodeChanges: true,
	},
	{
		Type:          "dependency_check",
		Title:         "Check dependency updates",
		Description:   "Check for outdated dependencies and evaluate available upgrades for security and compatibility.",
		IntervalHours: 168,
	},
	{
		Type:  "security_audit",
		Title: "Audit code for security issues",
		Description: "Scan the codebase for security vulnerabilities: hardcoded secrets, " +
			"SQL injection, XSS, command injection, insecure deserialization, " +
			"and other OWASP Top 10 risks. Report findings and apply fixes.",
		IntervalHours:    168,
		NeedsCodeChanges: true,
	},
	{
		Type:  "test_coverage",
		Title: "Generate tests for uncovered code",
		Description: "Identify functions and branches with no test coverage. " +
			"Generate unit tests for the most critical uncovered paths. " +
			"Run the test suite to verify the new tests pass.",
		IntervalHours:    48,
		NeedsCodeChanges: true,
	},
	{
		Type:  "dead_code_detection",
		Title: "Detect and remove dead code",
		Description: "Find unused imports, functions, variables, and unreachable code. " +
			"Remove dead code and verify the test suite still passes.",
		IntervalHours:    168,
		NeedsCodeChanges: true,
	},
	{
		Type:  "changelog_generation",
		Title: "Generate changelog from recent commits",
		Description: "Review recent commit history and generate or update CHANGELOG entries. " +
			"Group changes by category following Keep a Changelog format.",
		MinCommits: 5,
	},
	{
		Type:  "deprecation_cleanup",
		Title: "Clean up deprecated code usage",
		Description: "Find usage of deprecated APIs, functions, and patterns in the codebase. " +
			"Migrate to recommended alternatives and remove deprecation warnings.",
		IntervalHours:    336,
		NeedsCodeChanges: true,
	},
	{
		Type:  "type_coverage",
		Title: "Strengthen static typing in weakly typed code",
		Description: "Identify code relying on untyped or loosely typed constructs. " +
			"Introduce precise types and run the type checker or compiler to verify correctness.",
		IntervalHours:    168,
		NeedsCodeChanges: true,
	},
}

// TemplateStore answers when a template last produced a finished task.
type TemplateStore interface {
	LastAutoTemplateCompletion(taskType string) (time.Time, bool, error)
}

// TemplateSource generates recurring maintenance tasks whose conditions are
// met. Each candidate is keyed "<type>:<date>" so a template fires at most
// once per day regardless of how often the scan runs.
type TemplateSource struct {
	store TemplateStore
	cfg   *config.Config
	now   func() time.Time
}

// NewTemplateSource creates a template source over the store and config.
func NewTemplateSource(store TemplateStore, cfg *config.Config) *TemplateSource {
	return &TemplateSource{store: store, cfg: cfg, now: time.Now}
}

func (s *TemplateSource) Name() string { return "auto_template" }

// Scan evaluates each enabled template against the configured work dir.
func (s *TemplateSource) Scan(ctx context.Context, workDir string) ([]Candidate, error) {
	if !s.cfg.AutoTasks.Enabled {
		return nil, nil
	}
	if s.cfg.AutoTasks.WorkDir != "" && s.cfg.AutoTasks.WorkDir != "." {
		workDir = s.cfg.AutoTasks.WorkDir
	}

	repo, err := gitx.Open(ctx, workDir)
	if err != nil {
		if errors.Is(err, gitx.ErrNotARepository) {
			return nil, nil
		}
		return nil, err
	}

	now := s.now()
	today := now.Format("2006-01-02")

	var candidates []Candidate
	for _, tmpl := range BuiltinTemplates {
		due, err := s.templateDue(ctx, repo, tmpl, now)
		if err != nil {
			return nil, fmt.Errorf("evaluate template %s: %w", tmpl.Type, err)
		}
		if !due {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:       tmpl.Title,
			Description: tmpl.Description,
			Source:      models.SourceAutoTemplate,
			SourceRef:   fmt.Sprintf("%s:%s", tmpl.Type, today),
			WorkDir:     workDir,
		})
	}
	return candidates, nil
}

// templateDue checks every condition of one template, with per-template
// config overrides applied.
func (s *TemplateSource) templateDue(ctx context.Context, repo *gitx.Repo, tmpl Template, now time.Time) (bool, error) {
	interval := tmpl.IntervalHours
	minCommits := tmpl.MinCommits
	if ov, ok := s.cfg.AutoTasks.Overrides[tmpl.Type]; ok {
		if ov.Enabled != nil && !*ov.Enabled {
			return false, nil
		}
		if ov.IntervalHours != nil {
			interval = *ov.IntervalHours
		}
		if ov.MinCommits != nil {
			minCommits = *ov.MinCommits
		}
	}

	if interval > 0 {
		last, ok, err := s.store.LastAutoTemplateCompletion(tmpl.Type)
		if err != nil {
			return false, err
		}
		if ok && now.Sub(last) < time.Duration(interval)*time.Hour {
			return false, nil
		}
	}

	if minCommits > 0 {
		branch, err := repo.CurrentBranch(ctx)
		if err != nil {
			return false, err
		}
		ahead, err := repo.CommitsAhead(ctx, branch)
		if err != nil {
			return false, nil
		}
		if ahead < minCommits {
			return false, nil
		}
	}

	if interval > 0 {
		since := now.Add(-time.Duration(interval) * time.Hour)
		if tmpl.NeedsNewCommits {
			n, err := repo.CommitCountSince(ctx, since)
			if err != nil || n == 0 {
				return false, nil
			}
		}
		if tmpl.NeedsCodeChanges {
			changed, err := repo.HasCodeChangesSince(ctx, since)
			if err != nil || !changed {
				return false, nil
			}
		}
	}

	return true, nil
}
