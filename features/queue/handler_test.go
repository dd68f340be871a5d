package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "processing-secret"

func newTestHandler(t *testing.T, handlers map[string]HandlerFunc) (*Handler, *Service) {
	t.Helper()
	svc := NewService(NewMemoryBackend(), slog.Default())
	return NewHandler(svc, handlers, testSecret, 25), svc
}

func TestHandler_ProcessBatch_RejectsUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	t.Run("missing secret", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/queue/process", nil)
		w := httptest.NewRecorder()
		h.ProcessBatch(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/queue/process", nil)
		req.Header.Set("X-Queue-Secret", "guess")
		w := httptest.NewRecorder()
		h.ProcessBatch(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
	})
}

func TestHandler_ProcessBatch_ReturnsCounts(t *testing.T) {
	handlers := map[string]HandlerFunc{
		TypeTelegram: func(ctx context.Context, payload json.RawMessage) error { return nil },
		TypeSheets:   func(ctx context.Context, payload json.RawMessage) error { return errors.New("down") },
	}
	h, svc := newTestHandler(t, handlers)

	_, _, err := svc.Enqueue(context.Background(), TypeTelegram, nil, "t1", 5)
	require.NoError(t, err)
	_, _, err = svc.Enqueue(context.Background(), TypeSheets, nil, "s1", 5)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/queue/process?limit=50", nil)
	req.Header.Set("X-Queue-Secret", testSecret)
	w := httptest.NewRecorder()
	h.ProcessBatch(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp map[string]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp["processed"])
	assert.Equal(t, 1, resp["failed"])
	assert.Equal(t, 0, resp["dead"])
	assert.Equal(t, 50, resp["limit"])
}

func TestHandler_ProcessBatch_ValidatesLimit(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	for _, raw := range []string{"0", "201", "abc", "-5"} {
		req := httptest.NewRequest("POST", "/queue/process?limit="+raw, nil)
		req.Header.Set("X-Queue-Secret", testSecret)
		w := httptest.NewRecorder()
		h.ProcessBatch(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode, "limit=%s", raw)
	}
}

func TestHandler_ProcessBatch_AcceptsBearer(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest("POST", "/queue/process", nil)
	req.Header.Set("Authorization", "Bearer "+testSecret)
	w := httptest.NewRecorder()
	h.ProcessBatch(w, req)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestHandler_GetStats(t *testing.T) {
	h, svc := newTestHandler(t, nil)

	_, _, err := svc.Enqueue(context.Background(), TypePush, nil, "p1", 5)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/queue/stats", nil)
	req.Header.Set("X-Queue-Secret", testSecret)
	w := httptest.NewRecorder()
	h.GetStats(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp struct {
		Data Stats `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "memory", resp.Data.Mode)
	assert.Equal(t, 1, resp.Data.Total)
}

func TestHandler_ListJobs(t *testing.T) {
	h, svc := newTestHandler(t, nil)

	_, _, err := svc.Enqueue(context.Background(), TypeTelegram, nil, "dead1", 5)
	require.NoError(t, err)
	require.NoError(t, svc.MarkDone(context.Background(), "dead1", "boom"))

	req := httptest.NewRequest("GET", "/queue/jobs?status=dead", nil)
	req.Header.Set("X-Queue-Secret", testSecret)
	w := httptest.NewRecorder()
	h.ListJobs(w, req)

	require.Equal(t, http.StatusOK, w.Result().StatusCode)

	var resp struct {
		Data []Job          `json:"data"`
		Meta map[string]int `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.Meta["count"])
	assert.Equal(t, "dead1", resp.Data[0].QueueKey)
}

func TestHandler_ListJobs_InvalidStatus(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	req := httptest.NewRequest("GET", "/queue/jobs?status=bogus", nil)
	req.Header.Set("X-Queue-Secret", testSecret)
	w := httptest.NewRecorder()
	h.ListJobs(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_RetryJob(t *testing.T) {
	h, svc := newTestHandler(t, nil)

	_, _, err := svc.Enqueue(context.Background(), TypeTelegram, nil, "dead1", 5)
	require.NoError(t, err)
	require.NoError(t, svc.MarkDone(context.Background(), "dead1", "boom"))

	mux := http.NewServeMux()
	mux.Handle("POST /queue/jobs/{key}/retry", http.HandlerFunc(h.RetryJob))

	req := httptest.NewRequest("POST", "/queue/jobs/dead1/retry", nil)
	req.Header.Set("X-Queue-Secret", testSecret)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	req = httptest.NewRequest("POST", "/queue/jobs/missing/retry", nil)
	req.Header.Set("X-Queue-Secret", testSecret)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}
