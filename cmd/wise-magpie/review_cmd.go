package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/review"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review, merge, or discard finished work branches",
}

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := review.New(a.store, a.log).List()
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("Nothing awaiting review.")
			return nil
		}
		for _, t := range tasks {
			fmt.Printf("#%-4d %s\n      branch %s, cost $%.4f\n",
				t.ID, t.Title, t.BranchName, t.ActualCostUSD)
		}
		return nil
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task's result, commits, and diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := review.New(a.store, a.log).Show(context.Background(), id)
		if err != nil {
			return err
		}

		t := report.Task
		fmt.Printf("%s\n", headerStyle.Render(fmt.Sprintf("Task #%d: %s", t.ID, t.Title)))
		fmt.Printf("Branch: %s   Cost: $%.4f\n\n", t.BranchName, t.ActualCostUSD)
		if t.ResultSummary != "" {
			fmt.Println(headerStyle.Render("Summary"))
			fmt.Println(t.ResultSummary)
			fmt.Println()
		}
		if strings.TrimSpace(report.CommitLog) != "" {
			fmt.Println(headerStyle.Render("Commits"))
			fmt.Println(strings.TrimSpace(report.CommitLog))
			fmt.Println()
		}
		if strings.TrimSpace(report.Diff) != "" {
			fmt.Println(headerStyle.Render("Diff"))
			fmt.Println(report.Diff)
		}
		return nil
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Merge a task's work branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := review.New(a.store, a.log).Approve(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Task #%d approved and merged\n", id)
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Discard a task's work branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := review.New(a.store, a.log).Reject(context.Background(), id); err != nil {
			return err
		}
		fmt.Printf("Task #%d rejected, branch discarded\n", id)
		return nil
	},
}

var reviewRespondCmd = &cobra.Command{
	Use:   "respond <id> <feedback>",
	Short: "Reject a task but queue a follow-up with your feedback",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return err
		}
		feedback := strings.Join(args[1:], " ")

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		followUp, err := review.New(a.store, a.log).Respond(context.Background(), id, feedback)
		if err != nil {
			return err
		}
		fmt.Printf("Task #%d rejected; follow-up queued as #%d\n", id, followUp.ID)
		return nil
	},
}

func init() {
	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewApproveCmd,
		reviewRejectCmd, reviewRespondCmd)
}
