package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/models"
	"github.com/wisemagpie/wise-magpie/internal/priority"
)

var statusStyles = map[models.TaskStatus]lipgloss.Style{
	models.TaskStatusPending:        lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	models.TaskStatusRunning:        lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
	models.TaskStatusCompleted:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	models.TaskStatusAwaitingReview: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
	models.TaskStatusMerged:         lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
	models.TaskStatusFailed:         lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	models.TaskStatusRejected:       lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the task queue",
}

var (
	listStatus      string
	addDescription  string
	addModel        string
	addPriority     float64
	addWorkDir      string
	scanWorkDir     string
)

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, highest priority first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.store.ListTasks(models.TaskStatus(listStatus))
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks.")
			return nil
		}
		for _, t := range tasks {
			status := string(t.Status)
			if style, ok := statusStyles[t.Status]; ok {
				status = style.Render(status)
			}
			fmt.Printf("#%-4d %5.1f  %-16s %-13s %s\n",
				t.ID, t.Priority, status, t.Source, t.Title)
		}
		return nil
	},
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Queue a task by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		workDir := addWorkDir
		if workDir == "" {
			workDir, _ = os.Getwd()
		}
		task := &models.Task{
			Title:          args[0],
			Description:    addDescription,
			Source:         models.SourceManual,
			RequestedModel: addModel,
			WorkDir:        workDir,
			Status:         models.TaskStatusPending,
		}
		if cmd.Flags().Changed("priority") {
			task.Priority = addPriority
		} else {
			task.Priority = priority.Score(task)
		}

		created, err := a.store.CreateTask(task)
		if err != nil {
			return err
		}
		fmt.Printf("Task #%d queued (priority %.1f)\n", created.ID, created.Priority)
		return nil
	},
}

var tasksScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Harvest tasks from all configured sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		workDir := scanWorkDir
		if workDir == "" {
			workDir, _ = os.Getwd()
		}
		n, err := a.scanner().Scan(context.Background(), workDir)
		if err != nil {
			return err
		}
		fmt.Printf("Scan complete: %d new task(s)\n", n)
		return nil
	},
}

var tasksRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a task from the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q", args[0])
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.DeleteTask(id); err != nil {
			return err
		}
		fmt.Printf("Task #%d removed\n", id)
		return nil
	},
}

func init() {
	tasksListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	tasksAddCmd.Flags().StringVar(&addDescription, "description", "", "task description")
	tasksAddCmd.Flags().StringVar(&addModel, "model", "", "force a model tier (haiku, sonnet, opus)")
	tasksAddCmd.Flags().Float64Var(&addPriority, "priority", 0, "explicit priority 0-100")
	tasksAddCmd.Flags().StringVar(&addWorkDir, "work-dir", "", "repository the task runs in")
	tasksScanCmd.Flags().StringVar(&scanWorkDir, "work-dir", "", "repository to scan")

	tasksCmd.AddCommand(tasksListCmd, tasksAddCmd, tasksScanCmd, tasksRemoveCmd)
}
