package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wisemagpie/wise-magpie/internal/models"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Inspect the learned activity pattern",
}

var heatStyles = []lipgloss.Style{
	lipgloss.NewStyle().Foreground(lipgloss.Color("8")),  // no data
	lipgloss.NewStyle().Foreground(lipgloss.Color("10")), // < 25%
	lipgloss.NewStyle().Foreground(lipgloss.Color("11")), // < 50%
	lipgloss.NewStyle().Foreground(lipgloss.Color("3")),  // < 75%
	lipgloss.NewStyle().Foreground(lipgloss.Color("9")),  // >= 75%
}

func heatGlyph(prob float64, samples int) string {
	switch {
	case samples == 0:
		return heatStyles[0].Render("·")
	case prob < 0.25:
		return heatStyles[1].Render("░")
	case prob < 0.50:
		return heatStyles[2].Render("▒")
	case prob < 0.75:
		return heatStyles[3].Render("▓")
	default:
		return heatStyles[4].Render("█")
	}
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the weekly activity heatmap",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pat, err := a.predictor().Pattern(time.Now())
		if err != nil {
			return err
		}

		fmt.Print("     ")
		for h := 0; h < 24; h++ {
			fmt.Printf("%3d", h)
		}
		fmt.Println()

		names := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
		// Rows run Monday first; the pattern is indexed by Go weekday
		// (Sunday = 0).
		for i, name := range names {
			day := (i + 1) % 7
			fmt.Printf("%4s ", name)
			for h := 0; h < 24; h++ {
				fmt.Printf("  %s", heatGlyph(pat.Prob[day][h], pat.Samples[day][h]))
			}
			fmt.Println()
		}

		fmt.Println()
		fmt.Println("Legend: · no data  ░ <25%  ▒ <50%  ▓ <75%  █ >=75% active")
		return nil
	},
}

var predictHorizonHours int

var schedulePredictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict upcoming idle windows and quota at risk of expiring",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		now := time.Now()
		windows, err := a.predictor().PredictIdleWindows(now, predictHorizonHours)
		if err != nil {
			return err
		}

		if len(windows) == 0 {
			fmt.Printf("No idle windows predicted in the next %dh.\n", predictHorizonHours)
		} else {
			fmt.Printf("Predicted idle windows (next %dh):\n", predictHorizonHours)
			for _, w := range windows {
				fmt.Printf("  %s - %s  (%s, %.0f%% confidence)\n",
					w.Start.Format("Mon 15:04"), w.End.Format("15:04"),
					w.Duration().Round(time.Minute), w.Confidence*100)
			}
		}

		// Quota left in the current window expires at the roll; anything
		// the daemon cannot plausibly spend is waste.
		acct := a.quotaAccountant()
		left, err := acct.TimeLeft(now)
		if err != nil {
			return err
		}
		fmt.Printf("\nQuota window resets in %s. At risk of expiring unused:\n",
			left.Round(time.Minute))
		var wasteUSD float64
		for _, model := range models.Tiers {
			remaining, err := acct.Remaining(model)
			if err != nil {
				return err
			}
			value := float64(remaining) * models.AverageMessageCost(model)
			wasteUSD += value
			fmt.Printf("  %-7s %4d messages (~$%.2f of equivalent API spend)\n",
				models.ModelAlias(model), remaining, value)
		}
		fmt.Printf("  total   ~$%.2f\n", wasteUSD)
		return nil
	},
}

func init() {
	schedulePredictCmd.Flags().IntVar(&predictHorizonHours, "hours", 24, "prediction horizon")
	scheduleCmd.AddCommand(scheduleShowCmd, schedulePredictCmd)
}
