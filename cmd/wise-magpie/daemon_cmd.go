package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/daemon"
	"github.com/wisemagpie/wise-magpie/internal/executor"
	"github.com/wisemagpie/wise-magpie/internal/models"
	"github.com/wisemagpie/wise-magpie/internal/policy"
	"github.com/wisemagpie/wise-magpie/internal/quota"
)

var startForeground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background scheduler",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startForeground, "foreground", false,
		"run in the foreground instead of detaching")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !startForeground {
		return detachDaemon()
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	log, logFile, err := a.fileLogger(os.Stderr)
	if err != nil {
		return err
	}
	defer logFile.Close()

	quotaAcct := quota.NewAccountant(a.store, a.cfg, log)
	predictor := a.predictor()
	selector := policy.NewSelector(a.cfg, quotaAcct, predictor, log)

	d := daemon.New(
		a.cfg,
		a.store,
		a.monitor(),
		predictor,
		quotaAcct,
		a.budgetAccountant(),
		selector,
		executor.New(a.cfg, log),
		a.daemonScanner(log),
		quota.NewSyncer(log),
		a.lockPath(),
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// detachDaemon re-executes this binary with --foreground in its own
// session, stdio detached, and reports the child pid.
func detachDaemon() error {
	a, err := openApp()
	if err != nil {
		return err
	}
	logPath := a.logPath()
	lockPath := a.lockPath()
	a.Close()

	if pid := daemon.LockedPID(lockPath); pid > 0 && processAlive(pid) {
		return fmt.Errorf("%w (pid %d)", daemon.ErrAlreadyRunning, pid)
	}

	self, err := os.Executable()
	if err != nil {
		return err
	}
	child := exec.Command(self, "start", "--foreground")
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	configureDaemonProc(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	// The child owns its lifetime now.
	child.Process.Release()

	fmt.Printf("Daemon started (pid %d)\n", child.Process.Pid)
	fmt.Printf("Log: %s\n", logPath)
	return nil
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		lockPath := a.lockPath()
		a.Close()

		pid := daemon.LockedPID(lockPath)
		if pid == 0 || !processAlive(pid) {
			fmt.Println("Daemon is not running")
			return nil
		}
		if err := terminateProcess(pid); err != nil {
			return fmt.Errorf("stop daemon: %w", err)
		}
		fmt.Printf("Sent stop signal to daemon (pid %d)\n", pid)

		for i := 0; i < 20; i++ {
			if !processAlive(pid) {
				fmt.Println("Daemon stopped")
				return nil
			}
			time.Sleep(500 * time.Millisecond)
		}
		fmt.Println("Daemon may still be finishing its current task")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, quota, task, and activity status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pid := daemon.LockedPID(a.lockPath())
		if pid > 0 && processAlive(pid) {
			fmt.Printf("Daemon:   running (pid %d)", pid)
			if meta, err := a.store.GetDaemonMeta(); err == nil && meta != nil {
				fmt.Printf(", last tick %s", meta.LastTickAt.Local().Format("15:04:05"))
			}
			fmt.Println()
		} else {
			fmt.Println("Daemon:   stopped")
		}

		acct := a.quotaAccountant()
		for _, model := range models.Tiers {
			remaining, err := acct.Remaining(model)
			if err != nil {
				return err
			}
			fmt.Printf("Quota:    %-7s %d messages available for autonomous use\n",
				models.ModelAlias(model), remaining)
		}
		left, err := acct.TimeLeft(time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Window:   %s until reset\n", left.Round(time.Minute))

		spent, err := a.budgetAccountant().DailySpent(time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Budget:   $%.2f of $%.2f spent today\n", spent, a.cfg.Budget.MaxDailyUSD)

		for _, status := range []models.TaskStatus{
			models.TaskStatusRunning, models.TaskStatusPending, models.TaskStatusAwaitingReview,
		} {
			tasks, err := a.store.ListTasks(status)
			if err != nil {
				return err
			}
			fmt.Printf("Tasks:    %d %s\n", len(tasks), status)
			if status == models.TaskStatusRunning {
				for _, t := range tasks {
					fmt.Printf("          > #%d: %s\n", t.ID, t.Title)
				}
			}
		}

		mon := a.monitor()
		active, err := mon.IsActive(context.Background(), time.Now())
		if err != nil {
			return err
		}
		if active {
			fmt.Println("Activity: operator active now")
			return nil
		}
		idle, known, err := mon.IdleDuration(time.Now())
		if err != nil {
			return err
		}
		if known {
			fmt.Printf("Activity: idle %s\n", idle.Round(time.Minute))
		} else {
			fmt.Println("Activity: no samples yet")
		}
		return nil
	},
}
