// Package models defines the core domain types for wise-magpie.
package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskStatusPending        TaskStatus = "pending"
	TaskStatusRunning        TaskStatus = "running"
	TaskStatusCompleted      TaskStatus = "completed"
	TaskStatusFailed         TaskStatus = "failed"
	TaskStatusAwaitingReview TaskStatus = "awaiting_review"
	TaskStatusMerged         TaskStatus = "merged"
	TaskStatusRejected       TaskStatus = "rejected"
)

// TaskSource identifies where a task came from.
type TaskSource string

const (
	SourceManual       TaskSource = "manual"
	SourceCodeComment  TaskSource = "code_comment"
	SourceQueueFile    TaskSource = "queue_file"
	SourceAutoTemplate TaskSource = "auto_template"
	SourceIssue        TaskSource = "issue"
	SourceMarkdown     TaskSource = "markdown"
)

// Task is a unit of autonomous work.
type Task struct {
	ID             int64      `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	Source         TaskSource `json:"source"`
	SourceRef      string     `json:"source_ref,omitempty"`
	RequestedModel string     `json:"requested_model,omitempty"`
	Priority       float64    `json:"priority"`
	Status         TaskStatus `json:"status"`
	WorkDir        string     `json:"work_dir,omitempty"`
	BranchName     string     `json:"branch_name,omitempty"`
	ResultSummary  string     `json:"result_summary,omitempty"`
	ActualCostUSD  float64    `json:"actual_cost_usd"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// QuotaWindow is the open rolling window during which per-model message
// counts accumulate.
type QuotaWindow struct {
	StartedAt        time.Time      `json:"window_started_at"`
	WindowHours      int            `json:"window_hours"`
	Consumed         map[string]int `json:"consumed"`
	LastCorrectionAt *time.Time     `json:"last_correction_at,omitempty"`
}

// UsageSample is one presence observation.
type UsageSample struct {
	Timestamp time.Time `json:"timestamp"`
	Active    bool      `json:"active"`
}

// UsageRecord captures one Assistant CLI invocation for history and budget
// accounting.
type UsageRecord struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	TaskID       int64     `json:"task_id,omitempty"`
	Autonomous   bool      `json:"autonomous"`
}

// DaemonMeta is the singleton daemon bookkeeping row.
type DaemonMeta struct {
	PID        int       `json:"pid"`
	InstanceID string    `json:"instance_id"`
	StartedAt  time.Time `json:"started_at"`
	LastTickAt time.Time `json:"last_tick_at"`
}
