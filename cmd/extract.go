package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/litgrid/paperminer/internal/model"
)

var (
	extractTargetsPath string
	extractPaperID     string
	extractTitle       string
	extractJSON        bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <paper.md>",
	Short: "Extract structured fields from one paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		ts, err := model.LoadTargetSet(extractTargetsPath)
		if err != nil {
			return err
		}

		paperPath := args[0]
		markdown, err := os.ReadFile(paperPath)
		if err != nil {
			return eris.Wrap(err, "read paper")
		}

		meta := model.PaperMeta{
			PaperID: extractPaperID,
			Title:   extractTitle,
		}
		if meta.PaperID == "" {
			meta.PaperID = paperIDFromPath(paperPath)
		}

		extraction, err := env.Service.Extract(ctx, string(markdown), ts.Targets, meta)
		if err != nil {
			return err
		}

		if err := env.Store.SaveExtraction(ctx, extraction); err != nil {
			zap.L().Warn("failed to persist extraction", zap.Error(err))
		}
		if err := env.Store.SaveUsageSnapshot(ctx, env.Tracker.Summary()); err != nil {
			zap.L().Warn("failed to persist usage snapshot", zap.Error(err))
		}

		if extractJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(extraction)
		}

		printExtraction(cmd, extraction)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractTargetsPath, "targets", "targets.yaml", "path to the target set YAML")
	extractCmd.Flags().StringVar(&extractPaperID, "paper-id", "", "paper identifier (default derived from filename)")
	extractCmd.Flags().StringVar(&extractTitle, "title", "", "paper title")
	extractCmd.Flags().BoolVar(&extractJSON, "json", false, "print the full extraction as JSON")
	rootCmd.AddCommand(extractCmd)
}

// paperIDFromPath derives a paper ID from the markdown filename.
func paperIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func printExtraction(cmd *cobra.Command, ex *model.PaperExtraction) {
	cmd.Printf("paper: %s\nprovider: %s (%s)\nfallback: %v\ntokens: %d  cost: $%.4f\n\n",
		ex.PaperID, ex.Provider, ex.Model, ex.Fallback, ex.TokensUsed, ex.CostUSD)
	for _, r := range ex.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		cmd.Printf("  %-30s %-7s", r.TargetName, status)
		if r.Success {
			cmd.Printf(" (confidence %.2f)", r.Confidence)
		} else if r.Error != "" {
			cmd.Printf(" %s", r.Error)
		}
		cmd.Println()
	}
}
