package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

// ErrDuplicateTask indicates a task with the same (source, source_ref)
// already exists.
var ErrDuplicateTask = errors.New("task with this source ref already exists")

// ErrTaskBusy indicates the operation is not allowed on a running task.
var ErrTaskBusy = errors.New("task is currently running")

// ErrTaskNotFound indicates no task row matches the given id.
var ErrTaskNotFound = errors.New("task not found")

// CreateTask inserts a new task. The (source, source_ref) pair is enforced
// unique when source_ref is non-empty; duplicates return ErrDuplicateTask.
func (s *Store) CreateTask(task *models.Task) (*models.Task, error) {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}

	res, err := s.db.Exec(
		`INSERT INTO tasks (title, description, source, source_ref, requested_model,
			priority, status, work_dir, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Title, task.Description, task.Source, task.SourceRef, task.RequestedModel,
		task.Priority, task.Status, task.WorkDir, task.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrDuplicateTask
		}
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("task id: %w", err)
	}
	task.ID = id
	return task, nil
}

const taskColumns = `id, title, description, source, source_ref, requested_model,
	priority, status, work_dir, branch_name, result_summary, actual_cost_usd,
	created_at, started_at, finished_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var task models.Task
	var startedAt, finishedAt sql.NullTime
	err := row.Scan(
		&task.ID, &task.Title, &task.Description, &task.Source, &task.SourceRef,
		&task.RequestedModel, &task.Priority, &task.Status, &task.WorkDir,
		&task.BranchName, &task.ResultSummary, &task.ActualCostUSD,
		&task.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}
	return &task, nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(id int64) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks ordered by priority, optionally filtered by status.
func (s *Store) ListTasks(status models.TaskStatus) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus updates the status of a task.
func (s *Store) UpdateTaskStatus(id int64, status models.TaskStatus) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateTask persists the mutable fields of a task.
func (s *Store) UpdateTask(task *models.Task) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET title = ?, description = ?, priority = ?, status = ?,
			work_dir = ?, branch_name = ?, result_summary = ?, actual_cost_usd = ?,
			started_at = ?, finished_at = ?
		 WHERE id = ?`,
		task.Title, task.Description, task.Priority, task.Status,
		task.WorkDir, task.BranchName, task.ResultSummary, task.ActualCostUSD,
		nullableTime(task.StartedAt), nullableTime(task.FinishedAt),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// DeleteTask removes a task. Running tasks cannot be removed.
func (s *Store) DeleteTask(id int64) error {
	task, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if task.Status == models.TaskStatusRunning {
		return ErrTaskBusy
	}
	_, err = s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// ClaimNextPending atomically selects the highest-priority pending task
// (FIFO on tie) and marks it running, claimed by holderID. It returns
// (nil, nil) when there is no pending task, and refuses to claim while
// another task is running, which keeps the at-most-one invariant even if
// two daemon ticks ever race.
func (s *Store) ClaimNextPending(holderID string) (*models.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var runningID int64
	err = tx.QueryRow(
		`SELECT id FROM tasks WHERE status = ? LIMIT 1`, models.TaskStatusRunning,
	).Scan(&runningID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check running: %w", err)
	}
	if err == nil {
		return nil, nil
	}

	task, err := scanTask(tx.QueryRow(
		`SELECT `+taskColumns+` FROM tasks WHERE status = ?
		 ORDER BY priority DESC, id ASC LIMIT 1`,
		models.TaskStatusPending,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}

	now := time.Now().UTC()
	res, err := tx.Exec(
		`UPDATE tasks SET status = ?, started_at = ?, claimed_by = ?
		 WHERE id = ? AND status = ?`,
		models.TaskStatusRunning, now, holderID, task.ID, models.TaskStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Lost a race with a concurrent writer.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	task.Status = models.TaskStatusRunning
	task.StartedAt = &now
	return task, nil
}

// SweepOrphanRunning returns tasks left running by an abruptly terminated
// daemon back to pending. Returns the number of tasks swept.
func (s *Store) SweepOrphanRunning() (int, error) {
	res, err := s.db.Exec(
		`UPDATE tasks SET status = ?, started_at = NULL, claimed_by = ''
		 WHERE status = ?`,
		models.TaskStatusPending, models.TaskStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep running tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// HasTaskWithSourceRef reports whether any task exists for the dedup key.
func (s *Store) HasTaskWithSourceRef(source models.TaskSource, ref string) (bool, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM tasks WHERE source = ? AND source_ref = ? LIMIT 1`,
		source, ref,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query source ref: %w", err)
	}
	return true, nil
}

// LastAutoTemplateCompletion returns the most recent finished_at among
// completed or reviewed auto-template tasks of the given type. ok is false
// when no such task exists.
func (s *Store) LastAutoTemplateCompletion(taskType string) (time.Time, bool, error) {
	// MAX() strips the column's declared DATETIME type, which breaks the
	// driver's time conversion; select the top row instead.
	var finished sql.NullTime
	err := s.db.QueryRow(
		`SELECT finished_at FROM tasks
		 WHERE source = ? AND source_ref LIKE ? AND finished_at IS NOT NULL
		   AND status IN (?, ?, ?)
		 ORDER BY finished_at DESC LIMIT 1`,
		models.SourceAutoTemplate, taskType+":%",
		models.TaskStatusCompleted, models.TaskStatusAwaitingReview, models.TaskStatusMerged,
	).Scan(&finished)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query template completion: %w", err)
	}
	if !finished.Valid {
		return time.Time{}, false, nil
	}
	return finished.Time, true, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
