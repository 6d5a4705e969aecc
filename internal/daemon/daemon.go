// Package daemon runs the scheduler loop: sample presence, evaluate the
// admission gates, and dispatch at most one autonomous task at a time.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/wisemagpie/wise-magpie/internal/activity"
	"github.com/wisemagpie/wise-magpie/internal/budget"
	"github.com/wisemagpie/wise-magpie/internal/config"
	"github.com/wisemagpie/wise-magpie/internal/executor"
	"github.com/wisemagpie/wise-magpie/internal/models"
	"github.com/wisemagpie/wise-magpie/internal/pattern"
	"github.com/wisemagpie/wise-magpie/internal/policy"
	"github.com/wisemagpie/wise-magpie/internal/quota"
	"github.com/wisemagpie/wise-magpie/internal/store"
)

// ErrAlreadyRunning indicates another daemon instance holds the lock.
var ErrAlreadyRunning = errors.New("daemon already running")

const resultSummaryLimit = 2000

// TaskExecutor runs one task to completion.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.Task, model string, maxBudgetUSD float64) (*executor.Result, error)
}

// Scanner harvests new tasks from the configured sources.
type Scanner interface {
	Scan(ctx context.Context, workDir string) (int, error)
}

// UpstreamSyncer pulls authoritative quota state.
type UpstreamSyncer interface {
	Sync(ctx context.Context, acct *quota.Accountant) (*quota.Snapshot, error)
}

// Daemon owns the scheduler loop and the singleton lock.
type Daemon struct {
	cfg       *config.Config
	store     *store.Store
	monitor   *activity.Monitor
	predictor *pattern.Predictor
	quota     *quota.Accountant
	budget    *budget.Accountant
	selector  *policy.Selector
	exec      TaskExecutor
	scanner   Scanner
	syncer    UpstreamSyncer
	log       *slog.Logger

	instanceID string
	lockPath   string
	lock       *flock.Flock
	lastSync   time.Time
}

// New wires a daemon from its collaborators. syncer may be nil when no
// upstream credentials are available.
func New(
	cfg *config.Config,
	st *store.Store,
	monitor *activity.Monitor,
	predictor *pattern.Predictor,
	quotaAcct *quota.Accountant,
	budgetAcct *budget.Accountant,
	selector *policy.Selector,
	exec TaskExecutor,
	scanner Scanner,
	syncer UpstreamSyncer,
	lockPath string,
	log *slog.Logger,
) *Daemon {
	return &Daemon{
		cfg:        cfg,
		store:      st,
		monitor:    monitor,
		predictor:  predictor,
		quota:      quotaAcct,
		budget:     budgetAcct,
		selector:   selector,
		exec:       exec,
		scanner:    scanner,
		syncer:     syncer,
		log:        log,
		instanceID: uuid.NewString(),
		lockPath:   lockPath,
	}
}

// LockedPID reads the pid recorded in the lock file, for status reporting
// and error messages. Returns 0 when unknown.
func LockedPID(lockPath string) int {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// acquireLock takes the singleton file lock and records our pid in it. A
// lock left behind by a crashed daemon is free at the OS level, so reclaim
// is automatic.
func (d *Daemon) acquireLock() error {
	d.lock = flock.New(d.lockPath)
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !ok {
		if pid := LockedPID(d.lockPath); pid > 0 {
			return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return ErrAlreadyRunning
	}
	if err := os.WriteFile(d.lockPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		d.lock.Unlock()
		return fmt.Errorf("write pid: %w", err)
	}
	return nil
}

func (d *Daemon) releaseLock() {
	if d.lock != nil {
		d.lock.Unlock()
		os.Remove(d.lockPath)
	}
}

// Run executes the scheduler loop until ctx is cancelled. A task already in
// flight finishes before Run returns; the executor bounds how long that can
// take.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.acquireLock(); err != nil {
		return err
	}
	defer d.releaseLock()

	swept, err := d.store.SweepOrphanRunning()
	if err != nil {
		return fmt.Errorf("sweep orphaned tasks: %w", err)
	}
	if swept > 0 {
		d.log.Warn("returned orphaned running tasks to pending", "count", swept)
	}

	now := time.Now()
	if err := d.store.SetDaemonMeta(&models.DaemonMeta{
		PID:        os.Getpid(),
		InstanceID: d.instanceID,
		StartedAt:  now,
		LastTickAt: now,
	}); err != nil {
		return fmt.Errorf("record daemon start: %w", err)
	}
	d.log.Info("daemon started", "pid", os.Getpid(), "instance", d.instanceID)

	interval := time.Duration(d.cfg.Daemon.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.tick(ctx, time.Now())
		select {
		case <-ctx.Done():
			d.log.Info("daemon shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

// tick runs one pass of the scheduler: bookkeeping, admission gates, and at
// most one dispatch. Errors are logged, never fatal; the next tick retries.
func (d *Daemon) tick(ctx context.Context, now time.Time) {
	if err := d.store.TouchDaemonTick(now); err != nil {
		d.log.Error("touch daemon tick", "err", err)
	}
	if _, err := d.quota.RollIfDue(now); err != nil {
		d.log.Error("roll quota window", "err", err)
	}
	d.maybeSync(ctx, now)

	active, err := d.monitor.Sample(ctx, now)
	if err != nil {
		d.log.Error("sample presence", "err", err)
		return
	}

	if n, err := d.scanner.Scan(ctx, d.cfg.AutoTasks.WorkDir); err != nil {
		d.log.Warn("task scan failed", "err", err)
	} else if n > 0 {
		d.log.Info("harvested new tasks", "count", n)
	}

	if active {
		d.log.Debug("skip: operator active")
		return
	}

	idleThreshold := time.Duration(d.cfg.Activity.IdleThresholdMinutes) * time.Minute
	idle, known, err := d.monitor.IdleDuration(now)
	if err != nil {
		d.log.Error("idle duration", "err", err)
		return
	}
	if known && idle < idleThreshold {
		d.log.Debug("skip: not idle long enough",
			"idle_minutes", int(idle.Minutes()), "threshold_minutes", d.cfg.Activity.IdleThresholdMinutes)
		return
	}

	returnIn, expected, err := d.predictor.MinutesUntilLikelyReturn(now)
	if err != nil {
		d.log.Error("predict return", "err", err)
		return
	}
	if expected && returnIn < d.cfg.Activity.ReturnBufferMinutes {
		d.log.Debug("skip: operator predicted to return soon",
			"return_minutes", returnIn, "buffer_minutes", d.cfg.Activity.ReturnBufferMinutes)
		return
	}

	taskBudget, err := d.budget.TaskBudget(now)
	if err != nil {
		d.log.Error("compute task budget", "err", err)
		return
	}
	if taskBudget <= 0 {
		d.log.Debug("skip: daily budget exhausted")
		return
	}

	task, err := d.store.ClaimNextPending(d.instanceID)
	if err != nil {
		d.log.Error("claim task", "err", err)
		return
	}
	if task == nil {
		d.log.Debug("skip: no claimable task")
		return
	}

	d.dispatch(ctx, task, now, taskBudget)
}

// dispatch runs one claimed task end to end: model selection, quota
// consumption, execution, settlement.
func (d *Daemon) dispatch(ctx context.Context, task *models.Task, now time.Time, taskBudget float64) {
	decision, err := d.selector.Select(task, now)
	if err != nil {
		if errors.Is(err, policy.ErrQuotaExhausted) {
			d.log.Info("skip: quota exhausted for all tiers", "task_id", task.ID)
			d.requeue(task)
			return
		}
		d.log.Error("select model", "task_id", task.ID, "err", err)
		d.requeue(task)
		return
	}

	est := models.AverageMessageCost(decision.Model)
	ok, err := d.budget.AdmitsTask(now, est)
	if err != nil || !ok {
		if err != nil {
			d.log.Error("budget admission", "err", err)
		} else {
			d.log.Info("skip: task over budget",
				"task_id", task.ID, "estimated_usd", est)
		}
		d.requeue(task)
		return
	}

	// Consume before dispatch so a crash mid-task never undercounts; a
	// dispatch that fails before the CLI runs refunds the message.
	if err := d.quota.Consume(decision.Model, 1); err != nil {
		d.log.Error("consume quota", "task_id", task.ID, "err", err)
		d.requeue(task)
		return
	}

	d.log.Info("dispatching task",
		"task_id", task.ID, "title", task.Title,
		"model", models.ModelAlias(decision.Model), "budget_usd", taskBudget)

	// The run rides on its own context so shutdown waits for it instead of
	// killing the CLI mid-task.
	res, err := d.exec.Execute(context.Background(), task, decision.Model, taskBudget)
	finished := time.Now()
	task.FinishedAt = &finished

	if err != nil {
		if refundErr := d.quota.Refund(decision.Model, 1); refundErr != nil {
			d.log.Error("refund quota", "err", refundErr)
		}
		task.Status = models.TaskStatusFailed
		task.ResultSummary = truncate("dispatch failed: "+err.Error(), resultSummaryLimit)
		if err := d.store.UpdateTask(task); err != nil {
			d.log.Error("update task", "task_id", task.ID, "err", err)
		}
		d.log.Warn("task dispatch failed", "task_id", task.ID, "err", err)
		return
	}

	task.BranchName = res.BranchName
	task.ActualCostUSD = res.CostUSD
	if res.OK {
		task.Status = models.TaskStatusAwaitingReview
		task.ResultSummary = truncate(res.Summary, resultSummaryLimit)
	} else {
		task.Status = models.TaskStatusFailed
		task.ResultSummary = truncate("Error: "+res.ErrDetail, resultSummaryLimit)
	}
	if err := d.store.UpdateTask(task); err != nil {
		d.log.Error("update task", "task_id", task.ID, "err", err)
	}

	if err := d.budget.Record(&models.UsageRecord{
		Timestamp:    finished,
		Model:        decision.Model,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      res.CostUSD,
		TaskID:       task.ID,
	}); err != nil {
		d.log.Error("record usage", "task_id", task.ID, "err", err)
	}

	d.log.Info("task finished",
		"task_id", task.ID, "status", task.Status,
		"cost_usd", res.CostUSD, "duration", res.Duration.Round(time.Second))
}

// requeue returns a claimed task to pending without touching its history.
func (d *Daemon) requeue(task *models.Task) {
	task.Status = models.TaskStatusPending
	task.StartedAt = nil
	if err := d.store.UpdateTask(task); err != nil {
		d.log.Error("requeue task", "task_id", task.ID, "err", err)
	}
}

// maybeSync pulls upstream quota state on the configured interval. A failed
// attempt is retried on the next tick; only success, or missing credentials,
// waits out a full interval.
func (d *Daemon) maybeSync(ctx context.Context, now time.Time) {
	if d.syncer == nil || d.cfg.Daemon.AutoSyncIntervalMinutes <= 0 {
		return
	}
	interval := time.Duration(d.cfg.Daemon.AutoSyncIntervalMinutes) * time.Minute
	if !d.lastSync.IsZero() && now.Sub(d.lastSync) < interval {
		return
	}
	if _, err := d.syncer.Sync(ctx, d.quota); err != nil {
		if errors.Is(err, quota.ErrNoCredentials) {
			d.lastSync = now
		}
		d.log.Warn("upstream quota sync failed", "err", err)
		return
	}
	d.lastSync = now
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
