// Package api exposes the HTTP ingest endpoints.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/septivank/health-sync-worker/internal/service"
)

// maxBodyBytes bounds a single export body.
const maxBodyBytes = 64 << 20

// Pipelines is the subset of the sync service the handlers call.
type Pipelines interface {
	SyncMetrics(ctx context.Context, requestID string, body []byte) (*service.MetricsResponse, error)
	SyncDailySteps(ctx context.Context, requestID string, body []byte) (*service.StepsResponse, error)
	SyncWorkouts(ctx context.Context, requestID string, body []byte) (*service.WorkoutsResponse, error)
	Capture(ctx context.Context, requestID string, body []byte) (*service.CaptureResponse, error)
}

// Handler coordinates HTTP requests with the sync pipelines.
type Handler struct {
	pipelines Pipelines
	logger    *zap.Logger
}

// NewHandler builds a Handler.
func NewHandler(pipelines Pipelines, logger *zap.Logger) *Handler {
	return &Handler{pipelines: pipelines, logger: logger}
}

// Routes builds the router with middleware applied.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(cors)

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/"+service.PipelineHealthSync, pipeline(h.logger, h.pipelines.SyncMetrics))
	r.Post("/"+service.PipelineStepsDaily, pipeline(h.logger, h.pipelines.SyncDailySteps))
	r.Post("/"+service.PipelineWorkoutsSync, pipeline(h.logger, h.pipelines.SyncWorkouts))
	r.Post("/"+service.PipelineCapture, pipeline(h.logger, h.pipelines.Capture))
	return r
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// pipeline adapts a pipeline entry point to an HTTP handler. Every
// pipeline error is reported as 400 with an error message.
func pipeline[T any](logger *zap.Logger, run func(ctx context.Context, requestID string, body []byte) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, logger, http.StatusBadRequest, "unable to read body: "+err.Error())
			return
		}

		resp, err := run(r.Context(), middleware.GetReqID(r.Context()), body)
		if err != nil {
			writeError(w, logger, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, message string) {
	writeJSON(w, logger, status, errorResponse{Error: message})
}

// writeJSON encodes payload before touching the response so an encoding
// failure can still be reported as a JSON error.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to encode response", zap.Error(err))
		status = http.StatusInternalServerError
		body, _ = json.Marshal(errorResponse{Error: "failed to encode response: " + err.Error()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
