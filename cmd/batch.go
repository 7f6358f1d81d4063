package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/litgrid/paperminer/internal/budget"
	"github.com/litgrid/paperminer/internal/extract"
	"github.com/litgrid/paperminer/internal/model"
	"github.com/litgrid/paperminer/internal/store"
)

var (
	batchTargetsPath string
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Extract structured fields from every paper in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		ts, err := model.LoadTargetSet(batchTargetsPath)
		if err != nil {
			return err
		}

		papers, err := listPapers(args[0])
		if err != nil {
			return err
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentPapers
		}

		if err := processBatch(ctx, env, ts.Targets, papers, batchLimit, concurrency); err != nil {
			return err
		}

		if err := env.Store.SaveUsageSnapshot(ctx, env.Tracker.Summary()); err != nil {
			zap.L().Warn("failed to persist usage snapshot", zap.Error(err))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchTargetsPath, "targets", "targets.yaml", "path to the target set YAML")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of papers to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "concurrent papers (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// listPapers returns the markdown files in dir, sorted for deterministic order.
func listPapers(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrap(err, "read paper directory")
	}
	var papers []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		papers = append(papers, filepath.Join(dir, e.Name()))
	}
	sort.Strings(papers)
	return papers, nil
}

// processBatch applies limit, then extracts papers concurrently. Individual
// provider failures go to the dead letter queue; a breached cost limit aborts
// the whole batch.
func processBatch(ctx context.Context, env *appEnv, targets []model.ExtractionTarget, papers []string, limit, concurrency int) error {
	if len(papers) == 0 {
		zap.L().Info("no papers found")
		return nil
	}

	if limit > 0 && len(papers) > limit {
		papers = papers[:limit]
	}

	zap.L().Info("processing batch",
		zap.Int("papers", len(papers)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, path := range papers {
		path := path
		g.Go(func() error {
			log := zap.L().With(zap.String("paper", path))

			markdown, err := os.ReadFile(path)
			if err != nil {
				failed.Add(1)
				log.Error("failed to read paper", zap.Error(err))
				return nil
			}

			meta := model.PaperMeta{PaperID: paperIDFromPath(path)}
			extraction, err := env.Service.Extract(gctx, string(markdown), targets, meta)
			if err != nil {
				// A spent budget stops the batch; nothing else will succeed.
				var costErr *budget.CostLimitExceededError
				if errors.As(err, &costErr) {
					return err
				}

				failed.Add(1)
				log.Error("extraction failed", zap.Error(err))
				recordDLQ(gctx, env.Store, meta.PaperID, path, err)
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			if err := env.Store.SaveExtraction(gctx, extraction); err != nil {
				log.Warn("failed to persist extraction", zap.Error(err))
			}
			log.Info("extraction complete",
				zap.String("provider", extraction.Provider),
				zap.Float64("cost_usd", extraction.CostUSD),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}

// recordDLQ adds a failed paper to the dead letter queue.
func recordDLQ(ctx context.Context, st store.Store, paperID, path string, exErr error) {
	errType := "provider"
	var parseErr *extract.JSONParseError
	var allFailed *extract.AllProvidersFailedError
	switch {
	case errors.As(exErr, &parseErr):
		errType = "parse"
	case errors.As(exErr, &allFailed):
		errType = "all_providers_failed"
	}

	now := time.Now().UTC()
	entry := store.DLQEntry{
		PaperID:      paperID,
		PaperPath:    path,
		Error:        exErr.Error(),
		ErrorType:    errType,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := st.AddDLQ(ctx, entry); err != nil {
		zap.L().Warn("failed to record dlq entry",
			zap.String("paper_id", paperID),
			zap.Error(err),
		)
	}
}
