package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dayplan/internal/planner"
)

var (
	planOwner string
	planJSON  bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Run the planner once and print a summary",
	Long: `Run one planning pass over the configured horizon.

Examples:
  # Plan one owner
  dayplan plan --owner alice

  # Plan every configured and stored owner, full report as JSON
  dayplan plan --json
`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planOwner, "owner", "", "Owner to plan (default: all owners)")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Print full run reports as JSON")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var reports []*planner.RunReport
	if planOwner != "" {
		r, err := a.planner.RunOwner(ctx, planOwner)
		if err != nil {
			return err
		}
		reports = append(reports, r)
	} else {
		reports, err = a.planner.RunAll(ctx)
		if err != nil {
			printSummaries(reports)
			return err
		}
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}
	printSummaries(reports)
	return nil
}

func printSummaries(reports []*planner.RunReport) {
	for _, r := range reports {
		fmt.Printf("%s %s..%s: %d placed, %d carried, %d unscheduled, %d conflicts, %d stale removed\n",
			r.OwnerID, r.From, r.To, r.Placed, r.Carried, len(r.Unscheduled), len(r.Conflicts), r.Stale)
		for _, c := range r.Conflicts {
			fmt.Printf("  ! %s\n", c.Message)
		}
		for _, e := range r.FeedErrors {
			fmt.Printf("  feed: %s\n", e)
		}
	}
}
