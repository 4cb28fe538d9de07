package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ringo380/inferno-sub006/internal/batcher/strategies"
	"github.com/ringo380/inferno-sub006/internal/metrics"
	"github.com/ringo380/inferno-sub006/internal/models"
)

type submission struct {
	input    string
	priority models.Priority
	params   *models.GenerationParams
}

type stubBatcher struct {
	result    *models.RequestResult
	noReply   bool
	submitted []submission
}

func (s *stubBatcher) Submit(input string, priority models.Priority, params *models.GenerationParams) <-chan *models.RequestResult {
	s.submitted = append(s.submitted, submission{input: input, priority: priority, params: params})
	ch := make(chan *models.RequestResult, 1)
	if !s.noReply {
		ch <- s.result
	}
	return ch
}

func (s *stubBatcher) Start(context.Context) error { return nil }
func (s *stubBatcher) Stop(context.Context) error  { return nil }

func (s *stubBatcher) QueueStatus() map[string]int {
	return map[string]int{"high": 1, "normal": 2, "low": 3}
}

func (s *stubBatcher) Metrics() metrics.BatchingMetrics {
	return metrics.BatchingMetrics{AvgBatchSize: 4, TotalRequestsProcessed: 12}
}

func (s *stubBatcher) Params() strategies.Params {
	return strategies.Params{BatchSize: 8, WaitTime: 1500 * time.Microsecond}
}

func (s *stubBatcher) InFlight() int { return 2 }

func newTestRouter(t *testing.T, b *stubBatcher, opts RouterOptions) http.Handler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewRouter(ctx, b, opts)
}

func postCompletion(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCompletions_Success(t *testing.T) {
	b := &stubBatcher{result: &models.RequestResult{
		RequestID: "req-1",
		Output:    "hello",
		LatencyMs: 12.5,
		BatchID:   "batch-1",
		BatchSize: 3,
	}}
	h := newTestRouter(t, b, RouterOptions{})

	rec := postCompletion(t, h, `{"prompt":"hi","priority":"high","max_tokens":16}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "hello", resp.Output)
	assert.Equal(t, "batch-1", resp.BatchID)
	assert.Equal(t, 3, resp.BatchSize)

	require.Len(t, b.submitted, 1)
	assert.Equal(t, "hi", b.submitted[0].input)
	assert.Equal(t, models.PriorityHigh, b.submitted[0].priority)
	require.NotNil(t, b.submitted[0].params.MaxTokens)
	assert.Equal(t, 16, *b.submitted[0].params.MaxTokens)
}

func TestCompletions_DefaultsToNormalPriority(t *testing.T) {
	b := &stubBatcher{result: &models.RequestResult{}}
	h := newTestRouter(t, b, RouterOptions{})

	rec := postCompletion(t, h, `{"prompt":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, b.submitted, 1)
	assert.Equal(t, models.PriorityNormal, b.submitted[0].priority)
}

func TestCompletions_BadRequests(t *testing.T) {
	cases := map[string]string{
		"malformed json":   `{"prompt":`,
		"missing prompt":   `{"priority":"high"}`,
		"blank prompt":     `{"prompt":"   "}`,
		"unknown priority": `{"prompt":"hi","priority":"urgent"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			b := &stubBatcher{}
			rec := postCompletion(t, newTestRouter(t, b, RouterOptions{}), body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, b.submitted)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_request", resp.Error)
		})
	}
}

func TestCompletions_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrShuttingDown, http.StatusServiceUnavailable, "shutting_down"},
		{fmt.Errorf("wrapped: %w", models.ErrBatchTimeout), http.StatusGatewayTimeout, "batch_timeout"},
		{models.ErrBatchTooLarge, http.StatusRequestEntityTooLarge, "batch_too_large"},
		{models.ErrBackendUnavailable, http.StatusBadGateway, "backend_unavailable"},
		{models.ErrResultCountMismatch, http.StatusInternalServerError, "inference_failed"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			b := &stubBatcher{result: &models.RequestResult{RequestID: "r", Error: tc.err}}
			rec := postCompletion(t, newTestRouter(t, b, RouterOptions{}), `{"prompt":"hi"}`)
			assert.Equal(t, tc.status, rec.Code)

			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tc.code, resp.Error)
		})
	}
}

func TestCompletions_ClientGone(t *testing.T) {
	b := &stubBatcher{noReply: true}
	h := newTestRouter(t, b, RouterOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/completions", bytes.NewBufferString(`{"prompt":"hi"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler blocked after client disconnect")
	}
}

func TestBatchingMetrics(t *testing.T) {
	h := newTestRouter(t, &stubBatcher{}, RouterOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batching/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status BatchingStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 8, status.BatchSize)
	assert.InDelta(t, 1.5, status.WaitTimeMs, 1e-9)
	assert.Equal(t, 2, status.InFlight)
	assert.Equal(t, uint64(12), status.Metrics.TotalRequestsProcessed)
}

func TestQueues(t *testing.T) {
	h := newTestRouter(t, &stubBatcher{}, RouterOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batching/queues", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status QueueStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 6, status.Total)
	assert.Equal(t, 3, status.Queues["low"])
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, &stubBatcher{}, RouterOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestRouter(t, &stubBatcher{}, RouterOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/completions", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewCollector("test", reg, nil).RequestSubmitted(models.PriorityHigh)

	h := newTestRouter(t, &stubBatcher{}, RouterOptions{Gatherer: reg})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_requests_submitted_total")
}

func TestMetricsEndpointDisabled(t *testing.T) {
	h := newTestRouter(t, &stubBatcher{}, RouterOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := newTestRouter(t, &stubBatcher{}, RouterOptions{RateLimitRPS: 0.001, RateLimitBurst: 2})

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRecovery(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recovery(zap.NewNop()))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
