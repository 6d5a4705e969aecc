// Package executor runs one task at a time on an isolated git branch via
// the Assistant CLI.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/models"
)

// ErrDirtyWorkingTree means the repo has uncommitted changes and autonomous
// work must not touch it.
var ErrDirtyWorkingTree = errors.New("working tree has uncommitted changes")

// ErrAssistantNotFound means the Assistant CLI binary is not installed.
var ErrAssistantNotFound = errors.New("assistant CLI not found")

const (
	// BranchPrefix namespaces all autonomous work branches.
	BranchPrefix = "assistant/"

	maxSlugLen    = 50
	maxStderrTail = 4 << 10
	taskTimeout   = 30 * time.Minute
	maxTurns      = "50"
)

// Result captures one Assistant CLI run.
type Result struct {
	OK           bool
	Summary      string
	CostUSD      float64
	InputTokens  int
	OutputTokens int
	BranchName   string
	Duration     time.Duration
	ErrDetail    string
}

// runCommand executes the CLI; swapped out in tests.
type runCommand func(ctx context.Context, dir, name string, args []string) (stdout, stderr []byte, exitErr error)

// Executor owns the branch lifecycle and CLI invocation for one task at a
// time. It never merges or deletes review branches; that is the review
// workflow's job.
type Executor struct {
	cfg *config.Config
	log *slog.Logger
	run runCommand
}

// New creates an executor bound to the config.
func New(cfg *config.Config, log *slog.Logger) *Executor {
	return &Executor{cfg: cfg, log: log, run: runSubprocess}
}

func runSubprocess(ctx context.Context, dir, name string, args []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Execute runs the task on a fresh branch with the given model and budget
// ceiling. The prior branch checkout is restored on every exit path. The
// work branch is kept even when the run fails, so its partial work can be
// inspected; a failed run just reports no branch name.
func (e *Executor) Execute(ctx context.Context, task *models.Task, model string, maxBudgetUSD float64) (*Result, error) {
	workDir := task.WorkDir
	if workDir == "" {
		workDir = e.cfg.AutoTasks.WorkDir
	}

	repo, err := gitx.Open(ctx, workDir)
	if err != nil {
		return nil, err
	}
	dirty, err := repo.IsDirty(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, fmt.Errorf("%s: %w", workDir, ErrDirtyWorkingTree)
	}

	original, err := repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	branch, err := e.workBranch(ctx, repo, task)
	if err != nil {
		return nil, err
	}
	if err := repo.CreateBranch(ctx, branch); err != nil {
		return nil, fmt.Errorf("create work branch: %w", err)
	}

	res := e.invoke(ctx, workDir, task, model, maxBudgetUSD)
	res.BranchName = branch

	// Restore with a background context so shutdown cannot strand the
	// checkout on the work branch.
	restoreCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := repo.Checkout(restoreCtx, original); err != nil {
		e.log.Error("failed to restore branch", "branch", original, "err", err)
	}
	if !res.OK {
		res.BranchName = ""
	}
	return res, nil
}

// workBranch derives a free branch name for the task.
func (e *Executor) workBranch(ctx context.Context, repo *gitx.Repo, task *models.Task) (string, error) {
	base := fmt.Sprintf("%s%s-%d", BranchPrefix, slugify(task.Title), task.ID)
	name := base
	for i := 2; ; i++ {
		exists, err := repo.BranchExists(ctx, name)
		if err != nil {
			return "", err
		}
		if !exists {
			return name, nil
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}
}

// invoke runs the Assistant CLI and parses its JSON output.
func (e *Executor) invoke(ctx context.Context, workDir string, task *models.Task, model string, maxBudgetUSD float64) *Result {
	ctx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	prompt := task.Title
	if task.Description != "" {
		prompt += "\n\n" + task.Description
	}

	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--max-turns", maxTurns,
		"--model", model,
		fmt.Sprintf("--max-budget-usd=%g", maxBudgetUSD),
	}
	args = append(args, e.cfg.Assistant.ExtraFlags...)

	start := time.Now()
	stdout, stderr, runErr := e.run(ctx, workDir, "claude", args)
	res := &Result{Duration: time.Since(start)}

	if runErr != nil && errors.Is(runErr, exec.ErrNotFound) {
		res.ErrDetail = ErrAssistantNotFound.Error()
		return res
	}

	var out struct {
		Result  string  `json:"result"`
		CostUSD float64 `json:"cost_usd"`
		Usage   struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	parseErr := json.Unmarshal(stdout, &out)

	if runErr != nil || parseErr != nil {
		res.ErrDetail = stderrTail(stderr)
		if res.ErrDetail == "" && parseErr != nil {
			res.ErrDetail = "unparseable CLI output"
		}
		if ctx.Err() == context.DeadlineExceeded {
			res.ErrDetail = "task timed out"
		}
		return res
	}

	res.OK = true
	res.Summary = out.Result
	res.CostUSD = out.CostUSD
	res.InputTokens = out.Usage.InputTokens
	res.OutputTokens = out.Usage.OutputTokens
	if res.CostUSD == 0 {
		res.CostUSD = models.AverageMessageCost(model)
	}
	if res.InputTokens == 0 {
		res.InputTokens = models.AvgInputTokensPerMessage
	}
	if res.OutputTokens == 0 {
		res.OutputTokens = models.AvgOutputTokensPerMessage
	}
	return res
}

func stderrTail(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > maxStderrTail {
		s = s[len(s)-maxStderrTail:]
	}
	return s
}

// slugify turns a task title into a branch-safe segment.
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLen {
		slug = strings.Trim(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "task"
	}
	return slug
}
