// Package tasksrc discovers work from the configured task sources and feeds
// deduplicated, scored tasks into the queue.
package tasksrc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wisemagpie/wise-magpie/internal/models"
	"github.com/wisemagpie/wise-magpie/internal/priority"
	"github.com/wisemagpie/wise-magpie/internal/store"
)

// Candidate is a discovered unit of work before it becomes a task.
type Candidate struct {
	Title       string
	Description string
	Source      models.TaskSource
	SourceRef   string
	WorkDir     string
}

// Source harvests candidates from one origin.
type Source interface {
	Name() string
	Scan(ctx context.Context, workDir string) ([]Candidate, error)
}

// TaskStore is the slice of the store the aggregator writes through.
type TaskStore interface {
	HasTaskWithSourceRef(source models.TaskSource, ref string) (bool, error)
	CreateTask(task *models.Task) (*models.Task, error)
}

// Aggregator runs every source over a work dir and inserts new tasks.
type Aggregator struct {
	store   TaskStore
	log     *slog.Logger
	sources []Source
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(st TaskStore, log *slog.Logger, sources ...Source) *Aggregator {
	return &Aggregator{store: st, log: log, sources: sources}
}

// Scan harvests all sources and inserts candidates not already known by
// their (source, source_ref) key. Returns the number of tasks created.
// Scanning is idempotent: rerunning against unchanged inputs creates
// nothing.
func (a *Aggregator) Scan(ctx context.Context, workDir string) (int, error) {
	created := 0
	for _, src := range a.sources {
		candidates, err := src.Scan(ctx, workDir)
		if err != nil {
			return created, fmt.Errorf("scan %s: %w", src.Name(), err)
		}
		for _, c := range candidates {
			if c.SourceRef != "" {
				exists, err := a.store.HasTaskWithSourceRef(c.Source, c.SourceRef)
				if err != nil {
					return created, err
				}
				if exists {
					continue
				}
			}

			task := &models.Task{
				Title:       c.Title,
				Description: c.Description,
				Source:      c.Source,
				SourceRef:   c.SourceRef,
				WorkDir:     c.WorkDir,
				Status:      models.TaskStatusPending,
			}
			task.Priority = priority.Score(task)

			if _, err := a.store.CreateTask(task); err != nil {
				if errors.Is(err, store.ErrDuplicateTask) {
					continue
				}
				return created, err
			}
			created++
			a.log.Debug("task created from scan",
				"source", c.Source, "source_ref", c.SourceRef, "title", c.Title)
		}
	}
	return created, nil
}
