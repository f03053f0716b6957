package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meridian-intel/sentinel-cli/internal/calibration"
	"github.com/meridian-intel/sentinel-cli/internal/monitoring"
	"github.com/meridian-intel/sentinel-cli/internal/pipeline"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
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

func newRouter(env *appEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/pipeline/run", handlePipelineRun(env))
		r.Post("/analyze/{stage}", handleAnalyzeStage(env))
		r.Post("/calibration/refresh", handleCalibrationRefresh(env))
		r.Post("/campaigns/detect", handleCampaignsDetect(env))
		r.Get("/metrics", handleMetrics(env))
	})

	return r
}

// handlePipelineRun runs one batch. The response is always 200 with a
// success flag and itemized counts; per-item failures are data, not
// transport errors.
func handlePipelineRun(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.BatchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "")
			return
		}

		report, err := env.Orchestrator.RunBatch(r.Context(), req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":         true,
			"processed_posts": report.ProcessedPosts,
			"summarize_calls": report.SummarizeCalls,
			"quick_calls":     report.QuickCalls,
			"deep_calls":      report.DeepCalls,
			"deepest_calls":   report.DeepestCalls,
			"errors":          report.Errors,
			"remaining_posts": report.RemainingPosts,
		})
	}
}

// handleAnalyzeStage invokes a single stage for a single post.
func handleAnalyzeStage(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stage := chi.URLParam(r, "stage")

		var req struct {
			PostID string `json:"postId"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", stage)
			return
		}
		if strings.TrimSpace(req.PostID) == "" {
			writeError(w, http.StatusBadRequest, "postId is required", stage)
			return
		}

		var result any
		var err error
		switch stage {
		case "summarize":
			result, err = env.Analyzer.Summarize(r.Context(), req.PostID)
		case "quick":
			result, err = env.Analyzer.QuickScreen(r.Context(), req.PostID)
		case "deep":
			result, err = env.Analyzer.DeepAnalyze(r.Context(), req.PostID)
		case "deepest":
			result, err = env.Analyzer.DeepestAnalyze(r.Context(), req.PostID)
		default:
			writeError(w, http.StatusBadRequest, "unknown stage", stage)
			return
		}

		if err != nil {
			status := http.StatusInternalServerError
			if eris.Is(err, pipeline.ErrPostNotFound) || eris.Is(err, pipeline.ErrEmptyContent) {
				status = http.StatusBadRequest
			}
			writeError(w, status, err.Error(), stage)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleCalibrationRefresh(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params calibration.Params
		if err := decodeBody(r, &params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "")
			return
		}

		snap, err := env.Refresher.Refresh(r.Context(), params)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleCampaignsDetect(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TimeRangeDays int `json:"timeRange,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", "")
			return
		}
		days := req.TimeRangeDays
		if days <= 0 {
			days = cfgTimeRangeDays()
		}

		to := time.Now().UTC()
		from := to.Add(-time.Duration(days) * 24 * time.Hour)

		campaigns, err := env.Detector.Detect(r.Context(), from, to)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"campaigns": orEmpty(campaigns)})
	}
}

func handleMetrics(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := env.Collector.Collect(r.Context(), cfgLookbackHours())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func cfgLookbackHours() int {
	if cfg != nil && cfg.Monitoring.LookbackWindowHours > 0 {
		return cfg.Monitoring.LookbackWindowHours
	}
	return 24
}

func cfgTimeRangeDays() int {
	if cfg != nil && cfg.Campaign.TimeRangeDays > 0 {
		return cfg.Campaign.TimeRangeDays
	}
	return 7
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// decodeBody decodes an optional JSON body. An empty body is accepted as the
// zero request.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg, stage string) {
	body := map[string]string{"error": msg}
	if stage != "" {
		body["stage"] = stage
	}
	writeJSON(w, status, body)
}
