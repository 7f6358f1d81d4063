package main

import (
	"encoding/json"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/litgrid/paperminer/internal/store"
)

var usageJSON bool

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show the most recent usage and cost summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.NewSQLite(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		summary, err := st.LatestUsageSnapshot(ctx)
		if err != nil {
			return err
		}
		if summary == nil {
			cmd.Println("no usage recorded yet")
			return nil
		}

		if usageJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}

		cmd.Printf("papers processed: %d\n", summary.PapersProcessed)
		cmd.Printf("total tokens:     %d\n", summary.TotalTokens)
		cmd.Printf("total cost:       $%.4f\n", summary.TotalCostUSD)
		cmd.Printf("daily cost:       $%.4f\n", summary.DailyCostUSD)
		if cfg.Budget.DailyLimitUSD > 0 {
			cmd.Printf("daily remaining:  $%.4f\n", summary.DailyRemaining)
		}
		if cfg.Budget.TotalLimitUSD > 0 {
			cmd.Printf("total remaining:  $%.4f\n", summary.TotalRemaining)
		}

		names := make([]string, 0, len(summary.ByProvider))
		for name := range summary.ByProvider {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			u := summary.ByProvider[name]
			cmd.Printf("\n%s:\n", name)
			cmd.Printf("  requests:  %d (%d ok, %d failed)\n", u.Requests, u.Successes, u.Failures)
			cmd.Printf("  retries:   %d\n", u.Retries)
			cmd.Printf("  fallbacks: %d\n", u.Fallbacks)
			cmd.Printf("  tokens:    %d\n", u.Tokens)
			cmd.Printf("  cost:      $%.4f\n", u.CostUSD)
		}
		return nil
	},
}

func init() {
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "print the summary as JSON")
	rootCmd.AddCommand(usageCmd)
}
