package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/daemon"
	"github.com/wisemagpie/wise-magpie/internal/executor"
	"github.com/wisemagpie/wise-magpie/internal/gitx"
	"github.com/wisemagpie/wise-magpie/internal/quota"
	"github.com/wisemagpie/wise-magpie/internal/review"
	"github.com/wisemagpie/wise-magpie/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "wise-magpie",
	Short: "Autonomous task runner for idle AI-assistant quota",
	Long: `wise-magpie watches for periods when you are away from the keyboard and
spends your otherwise-wasted AI-assistant quota on queued maintenance
tasks, each executed on an isolated git branch for later review.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

// exitCode maps error classes to the documented exit codes: 1 user error,
// 2 precondition failure, 3 external tool missing.
func exitCode(err error) int {
	switch {
	case errors.Is(err, executor.ErrDirtyWorkingTree),
		errors.Is(err, daemon.ErrAlreadyRunning),
		errors.Is(err, store.ErrTaskBusy),
		errors.Is(err, review.ErrNotReviewable):
		return 2
	case errors.Is(err, executor.ErrAssistantNotFound),
		errors.Is(err, gitx.ErrNotARepository),
		errors.Is(err, quota.ErrNoCredentials):
		return 3
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
