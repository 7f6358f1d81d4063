package main

import (
	"encoding/json"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	healthJSON bool
	dlqLimit   int
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show provider health and circuit breaker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		health := env.Service.ProviderHealth()

		if healthJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(health)
		}

		names := make([]string, 0, len(health))
		for name := range health {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			h := health[name]
			cmd.Printf("%s: %s (circuit %s)\n", name, h.Status, h.Circuit.State)
		}
		return nil
	},
}

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List papers in the dead letter queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Store.ListDLQ(ctx, dlqLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			cmd.Println("dead letter queue is empty")
			return nil
		}

		for _, e := range entries {
			cmd.Printf("%s  [%s]  %s\n  %s\n",
				e.LastFailedAt.Format("2006-01-02 15:04:05"), e.ErrorType, e.PaperID, e.Error)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "print health as JSON")
	dlqCmd.Flags().IntVar(&dlqLimit, "limit", 50, "max entries to list")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(dlqCmd)
}
