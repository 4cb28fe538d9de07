package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ringo380/inferno-sub006/internal/batcher"
	"github.com/ringo380/inferno-sub006/internal/metrics"
	"github.com/ringo380/inferno-sub006/internal/models"
)

// maxBodyBytes caps a completion request body.
const maxBodyBytes = 1 << 20

type RouterOptions struct {
	Logger *zap.Logger
	// Gatherer backs the metrics endpoint; nil disables it.
	Gatherer    prometheus.Gatherer
	MetricsPath string
	// RateLimitRPS of zero disables rate limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

type CompletionRequest struct {
	Prompt      string   `json:"prompt"`
	Priority    string   `json:"priority,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

type CompletionResponse struct {
	RequestID string  `json:"request_id"`
	Output    string  `json:"output"`
	LatencyMs float64 `json:"latency_ms"`
	BatchID   string  `json:"batch_id"`
	BatchSize int     `json:"batch_size"`
}

type BatchingStatus struct {
	Metrics    metrics.BatchingMetrics `json:"metrics"`
	BatchSize  int                     `json:"current_batch_size"`
	WaitTimeMs float64                 `json:"current_wait_time_ms"`
	InFlight   int                     `json:"in_flight_batches"`
}

type QueueStatus struct {
	Queues map[string]int `json:"queues"`
	Total  int            `json:"total"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type handler struct {
	batcher batcher.Batcher
	logger  *zap.Logger
}

// NewRouter builds the HTTP surface over a running batcher. ctx bounds the
// rate limiter's background eviction.
func NewRouter(ctx context.Context, b batcher.Batcher, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{batcher: b, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/v1/completions", h.completions).Methods(http.MethodPost)
	r.HandleFunc("/v1/batching/metrics", h.batchingMetrics).Methods(http.MethodGet)
	r.HandleFunc("/v1/batching/queues", h.queues).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	middlewares := []Middleware{Recovery(logger), RequestLogger(logger)}
	if opts.RateLimitRPS > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, opts.RateLimitRPS, opts.RateLimitBurst))
	}
	return Chain(r, middlewares...)
}

func (h *handler) completions(w http.ResponseWriter, r *http.Request) {
	var req CompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}
	priority, err := models.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resultCh := h.batcher.Submit(req.Prompt, priority, &models.GenerationParams{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})

	select {
	case res := <-resultCh:
		if res.Error != nil {
			status, code := statusFor(res.Error)
			if status >= http.StatusInternalServerError {
				h.logger.Warn("completion failed", zap.String("request_id", res.RequestID), zap.Error(res.Error))
			}
			writeError(w, status, code, res.Error.Error())
			return
		}
		writeJSON(w, http.StatusOK, CompletionResponse{
			RequestID: res.RequestID,
			Output:    res.Output,
			LatencyMs: res.LatencyMs,
			BatchID:   res.BatchID,
			BatchSize: res.BatchSize,
		})
	case <-r.Context().Done():
		// The client went away; the result is dropped when it arrives.
		h.logger.Debug("client disconnected before result", zap.Error(r.Context().Err()))
	}
}

func (h *handler) batchingMetrics(w http.ResponseWriter, _ *http.Request) {
	params := h.batcher.Params()
	writeJSON(w, http.StatusOK, BatchingStatus{
		Metrics:    h.batcher.Metrics(),
		BatchSize:  params.BatchSize,
		WaitTimeMs: float64(params.WaitTime.Microseconds()) / 1000,
		InFlight:   h.batcher.InFlight(),
	})
}

func (h *handler) queues(w http.ResponseWriter, _ *http.Request) {
	status := h.batcher.QueueStatus()
	total := 0
	for _, n := range status {
		total += n
	}
	writeJSON(w, http.StatusOK, QueueStatus{Queues: status, Total: total})
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, models.ErrBatchTimeout):
		return http.StatusGatewayTimeout, "batch_timeout"
	case errors.Is(err, models.ErrBatchTooLarge):
		return http.StatusRequestEntityTooLarge, "batch_too_large"
	case errors.Is(err, models.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, models.ErrBackendUnavailable):
		return http.StatusBadGateway, "backend_unavailable"
	default:
		return http.StatusInternalServerError, "inference_failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
