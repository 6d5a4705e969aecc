// Package gitx wraps the git CLI operations the executor, review flow, and
// task sources need. Everything shells out to git; no repository state is
// cached.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNotARepository indicates the directory is not inside a git work tree.
var ErrNotARepository = errors.New("not a git repository")

const commandTimeout = 30 * time.Second

// Repo is a handle on one git work tree.
type Repo struct {
	Dir string
}

// Open validates that dir is a git work tree and returns a handle on it.
func Open(ctx context.Context, dir string) (*Repo, error) {
	r := &Repo{Dir: dir}
	out, err := r.run(ctx, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotARepository)
	}
	return r, nil
}

// run executes git with the repo as working directory and returns stdout.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return stdout.String(), nil
}

// IsDirty reports whether the work tree has uncommitted changes, including
// untracked files.
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// DefaultBranch returns "main" when it exists, otherwise "master".
func (r *Repo) DefaultBranch(ctx context.Context) (string, error) {
	for _, name := range []string{"main", "master"} {
		ok, err := r.BranchExists(ctx, name)
		if err != nil {
			return "", err
		}
		if ok {
			return name, nil
		}
	}
	return "", errors.New("no main or master branch")
}

// BranchExists reports whether a local branch with the given name exists.
func (r *Repo) BranchExists(ctx context.Context, name string) (bool, error) {
	out, err := r.run(ctx, "branch", "--list", name)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// CreateBranch creates and checks out a new branch at HEAD.
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", "-b", name)
	return err
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(ctx context.Context, name string) error {
	_, err := r.run(ctx, "checkout", name)
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.run(ctx, "branch", "-D", name)
	return err
}

// CommitCountSince counts commits on the current branch newer than since.
func (r *Repo) CommitCountSince(ctx context.Context, since time.Time) (int, error) {
	out, err := r.run(ctx, "log", "--oneline", "--since", since.Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return 0, nil
	}
	return len(strings.Split(trimmed, "\n")), nil
}

// HasCodeChangesSince reports whether any commit newer than since added,
// copied, modified, or renamed a file.
func (r *Repo) HasCodeChangesSince(ctx context.Context, since time.Time) (bool, error) {
	out, err := r.run(ctx, "log", "--oneline", "--diff-filter=ACMR",
		"--since", since.Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitsAhead counts commits on branch that are not on the default branch.
func (r *Repo) CommitsAhead(ctx context.Context, branch string) (int, error) {
	base, err := r.DefaultBranch(ctx)
	if err != nil {
		return 0, err
	}
	out, err := r.run(ctx, "rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse rev-list count: %w", err)
	}
	return n, nil
}

// BranchLog returns the one-line log of commits on branch beyond the default
// branch.
func (r *Repo) BranchLog(ctx context.Context, branch string) (string, error) {
	base, err := r.DefaultBranch(ctx)
	if err != nil {
		return "", err
	}
	return r.run(ctx, "log", "--oneline", base+".."+branch)
}

// BranchDiff returns the full diff the branch introduces over the default
// branch.
func (r *Repo) BranchDiff(ctx context.Context, branch string) (string, error) {
	base, err := r.DefaultBranch(ctx)
	if err != nil {
		return "", err
	}
	return r.run(ctx, "diff", base+"..."+branch)
}

// MergeBranch merges branch into the default branch with a merge commit.
// On conflict the merge is aborted and the original branch restored.
func (r *Repo) MergeBranch(ctx context.Context, branch string) error {
	prev, err := r.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	base, err := r.DefaultBranch(ctx)
	if err != nil {
		return err
	}
	if err := r.Checkout(ctx, base); err != nil {
		return err
	}
	if _, err := r.run(ctx, "merge", "--no-ff", branch,
		"-m", fmt.Sprintf("Merge branch '%s'", branch)); err != nil {
		r.run(ctx, "merge", "--abort")
		r.Checkout(ctx, prev)
		return fmt.Errorf("merge %s: %w", branch, err)
	}
	return nil
}

// LsFiles returns all tracked file paths.
func (r *Repo) LsFiles(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "ls-files")
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}
