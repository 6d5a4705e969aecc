// Package review is the operator workflow for work branches: inspect,
// merge, discard, or hand feedback back to the queue.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/models"
	"github.com/wisemagpie/wise-magpie/internal/priority"
	"github.com/wisemagpie/wise-magpie/internal/store"
)

// ErrNotReviewable indicates the task is not awaiting review.
var ErrNotReviewable = errors.New("task is not awaiting review")

// ErrNoWorkBranch indicates the task has no branch to act on.
var ErrNoWorkBranch = errors.New("task has no work branch")

// Reviewer applies operator decisions to reviewed tasks.
type Reviewer struct {
	store *store.Store
	log   *slog.Logger
}

// New creates a reviewer over the store.
func New(st *store.Store, log *slog.Logger) *Reviewer {
	return &Reviewer{store: st, log: log}
}

// List returns the tasks awaiting review, highest priority first.
func (r *Reviewer) List() ([]models.Task, error) {
	return r.store.ListTasks(models.TaskStatusAwaitingReview)
}

// Report is everything the operator needs to judge one task.
type Report struct {
	Task      *models.Task
	CommitLog string
	Diff      string
}

// Show builds the review report for a task: its summary plus the branch
// commit log and diff against the fork point.
func (r *Reviewer) Show(ctx context.Context, id int64) (*Report, error) {
	task, err := r.reviewable(id)
	if err != nil {
		return nil, err
	}

	repo, err := gitx.Open(ctx, task.WorkDir)
	if err != nil {
		return nil, err
	}
	commitLog, err := repo.BranchLog(ctx, task.BranchName)
	if err != nil {
		return nil, fmt.Errorf("branch log: %w", err)
	}
	diff, err := repo.BranchDiff(ctx, task.BranchName)
	if err != nil {
		return nil, fmt.Errorf("branch diff: %w", err)
	}
	return &Report{Task: task, CommitLog: commitLog, Diff: diff}, nil
}

// Approve merges the work branch into the default branch, deletes it, and
// marks the task merged. A merge conflict leaves the repo restored and the
// task untouched.
func (r *Reviewer) Approve(ctx context.Context, id int64) error {
	task, err := r.reviewable(id)
	if err != nil {
		return err
	}
	repo, err := gitx.Open(ctx, task.WorkDir)
	if err != nil {
		return err
	}
	if err := repo.MergeBranch(ctx, task.BranchName); err != nil {
		return err
	}
	if err := repo.DeleteBranch(ctx, task.BranchName); err != nil {
		// Already merged; losing the branch pointer is not critical.
		r.log.Warn("could not delete merged branch", "branch", task.BranchName, "err", err)
	}
	if err := r.store.UpdateTaskStatus(id, models.TaskStatusMerged); err != nil {
		return err
	}
	r.log.Info("task approved and merged", "task_id", id, "branch", task.BranchName)
	return nil
}

// Reject deletes the work branch and marks the task rejected.
func (r *Reviewer) Reject(ctx context.Context, id int64) error {
	task, err := r.reviewable(id)
	if err != nil {
		return err
	}
	repo, err := gitx.Open(ctx, task.WorkDir)
	if err != nil {
		return err
	}
	if err := repo.DeleteBranch(ctx, task.BranchName); err != nil {
		r.log.Warn("could not delete work branch", "branch", task.BranchName, "err", err)
	}
	if err := r.store.UpdateTaskStatus(id, models.TaskStatusRejected); err != nil {
		return err
	}
	r.log.Info("task rejected", "task_id", id, "branch", task.BranchName)
	return nil
}

// Respond rejects the task and queues a follow-up carrying the operator's
// feedback. Finished tasks are never resumed; rework is always a new task.
func (r *Reviewer) Respond(ctx context.Context, id int64, feedback string) (*models.Task, error) {
	task, err := r.reviewable(id)
	if err != nil {
		return nil, err
	}
	if err := r.Reject(ctx, id); err != nil {
		return nil, err
	}

	followUp := &models.Task{
		Title: "Rework: " + task.Title,
		Description: fmt.Sprintf(
			"A previous attempt at this task was reviewed and needs changes.\n\n"+
				"Original task: %s\n%s\n\nReviewer feedback:\n%s",
			task.Title, task.Description, feedback),
		Source:         models.SourceManual,
		RequestedModel: task.RequestedModel,
		WorkDir:        task.WorkDir,
		Status:         models.TaskStatusPending,
	}
	followUp.Priority = priority.Score(followUp)

	created, err := r.store.CreateTask(followUp)
	if err != nil {
		return nil, fmt.Errorf("create follow-up task: %w", err)
	}
	r.log.Info("follow-up task queued", "task_id", created.ID, "replaces", id)
	return created, nil
}

func (r *Reviewer) reviewable(id int64) (*models.Task, error) {
	task, err := r.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskStatusAwaitingReview {
		return nil, fmt.Errorf("task %d has status %s: %w", id, task.Status, ErrNotReviewable)
	}
	if task.BranchName == "" || task.WorkDir == "" {
		return nil, fmt.Errorf("task %d: %w", id, ErrNoWorkBranch)
	}
	return task, nil
}
