package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/models"
	"github.com/wisemagpie/wise-magpie/internal/quota"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Inspect and correct quota accounting",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current quota window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		acct := a.quotaAccountant()
		window, err := acct.Window()
		if err != nil {
			return err
		}
		left, err := acct.TimeLeft(time.Now())
		if err != nil {
			return err
		}

		fmt.Printf("Window:  %dh, started %s, resets in %s\n",
			window.WindowHours,
			window.StartedAt.Local().Format("15:04"),
			left.Round(time.Minute))
		if window.LastCorrectionAt != nil {
			fmt.Printf("Last correction: %s\n",
				window.LastCorrectionAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Printf("Safety margin: %.0f%% reserved for interactive use\n\n",
			a.cfg.Quota.SafetyMargin*100)

		for _, model := range models.Tiers {
			remaining, err := acct.Remaining(model)
			if err != nil {
				return err
			}
			limit := a.cfg.QuotaLimit(model)
			fmt.Printf("%-7s %4d consumed / %4d limit, %4d available for autonomous use\n",
				models.ModelAlias(model), window.Consumed[model], limit, remaining)
		}
		return nil
	},
}

var quotaSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull authoritative usage from the assistant account",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		syncer := quota.NewSyncer(a.log)
		snap, err := syncer.Sync(context.Background(), a.quotaAccountant())
		if err != nil {
			return err
		}
		fmt.Printf("Synced: five-hour window at %.1f%% utilization\n", snap.FiveHourPct)
		if snap.ResetsAt != nil {
			fmt.Printf("Resets: %s\n", snap.ResetsAt.Local().Format("15:04"))
		}
		return nil
	},
}

var quotaCorrectCmd = &cobra.Command{
	Use:   "correct <model> <remaining-messages>",
	Short: "Correct the consumed count from an observed remaining value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remaining, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid message count %q", args[1])
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		model := models.ResolveModel(args[0])
		acct := a.quotaAccountant()
		if err := acct.Correct(model, remaining); err != nil {
			return err
		}
		now, err := acct.Remaining(model)
		if err != nil {
			return err
		}
		fmt.Printf("%s corrected: %d messages available for autonomous use\n",
			models.ModelAlias(model), now)
		return nil
	},
}

var historyDays int

var quotaHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent assistant usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		since := time.Now().AddDate(0, 0, -historyDays)
		records, err := a.store.UsageSince(since)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("No usage in the last %d day(s)\n", historyDays)
			return nil
		}

		var totalCost float64
		for _, rec := range records {
			kind := "interactive"
			if rec.Autonomous {
				kind = "autonomous"
			}
			ref := ""
			if rec.TaskID != 0 {
				ref = fmt.Sprintf(" task #%d", rec.TaskID)
			}
			fmt.Printf("%s  %-7s %-11s $%6.4f%s\n",
				rec.Timestamp.Local().Format("01-02 15:04"),
				models.ModelAlias(rec.Model), kind, rec.CostUSD, ref)
			totalCost += rec.CostUSD
		}
		fmt.Printf("\nTotal: %d invocation(s), $%.2f\n", len(records), totalCost)
		return nil
	},
}

func init() {
	quotaHistoryCmd.Flags().IntVar(&historyDays, "days", 7, "how many days back to show")
	quotaCmd.AddCommand(quotaShowCmd, quotaSyncCmd, quotaCorrectCmd, quotaHistoryCmd)
}
