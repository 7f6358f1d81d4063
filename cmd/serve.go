package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/litgrid/paperminer/internal/model"
	"github.com/litgrid/paperminer/internal/monitoring"
	"github.com/litgrid/paperminer/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the extraction and status API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		// Background alert checker
		collector := monitoring.NewCollector(env.Service, env.Store)
		alerter := monitoring.NewAlerter(monitoring.AlerterConfig{
			WebhookURL:         cfg.Monitoring.WebhookURL,
			BudgetWarnFraction: cfg.Monitoring.BudgetWarnFraction,
			DLQDepthThreshold:  cfg.Monitoring.DLQDepthThreshold,
		})
		checker := monitoring.NewChecker(collector, alerter,
			time.Duration(cfg.Monitoring.CheckIntervalSecs)*time.Second)
		go checker.Run(ctx)

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/v1", func(r chi.Router) {
			r.Get("/providers", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, env.Service.ProviderHealth())
			})

			r.Get("/usage", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, env.Service.UsageSummary())
			})

			r.Get("/breakers", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, env.Service.BreakerStats())
			})

			r.Post("/breakers/reset", func(w http.ResponseWriter, r *http.Request) {
				env.Service.ResetCircuitBreakers()
				writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
			})

			r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
				snap, err := collector.Collect(r.Context())
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, snap)
			})

			r.Get("/extractions", func(w http.ResponseWriter, r *http.Request) {
				filter := store.ExtractionFilter{
					PaperID:  r.URL.Query().Get("paper_id"),
					Provider: r.URL.Query().Get("provider"),
				}
				if v := r.URL.Query().Get("limit"); v != "" {
					filter.Limit, _ = strconv.Atoi(v)
				}
				extractions, err := env.Store.ListExtractions(r.Context(), filter)
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, extractions)
			})

			r.Get("/dlq", func(w http.ResponseWriter, r *http.Request) {
				entries, err := env.Store.ListDLQ(r.Context(), 100)
				if err != nil {
					writeError(w, http.StatusInternalServerError, err)
					return
				}
				writeJSON(w, http.StatusOK, entries)
			})

			r.Post("/extract", func(w http.ResponseWriter, r *http.Request) {
				var req struct {
					Markdown string                   `json:"markdown"`
					Targets  []model.ExtractionTarget `json:"targets"`
					Meta     model.PaperMeta          `json:"meta"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
					return
				}
				if req.Markdown == "" {
					writeError(w, http.StatusBadRequest, eris.New("markdown is required"))
					return
				}

				extraction, err := env.Service.Extract(r.Context(), req.Markdown, req.Targets, req.Meta)
				if err != nil {
					writeError(w, http.StatusUnprocessableEntity, err)
					return
				}
				if err := env.Store.SaveExtraction(r.Context(), extraction); err != nil {
					zap.L().Warn("failed to persist extraction", zap.Error(err))
				}
				writeJSON(w, http.StatusOK, extraction)
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
