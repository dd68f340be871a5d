package integration

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"storefront/backend/features/queue"
)

func TestEventHandler_RejectsUnauthenticated(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	h := NewHandler(d, "secret")

	req := httptest.NewRequest("POST", "/events", strings.NewReader(`{"type":"order.created","payload":{}}`))
	w := httptest.NewRecorder()
	h.FireEvent(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Result().StatusCode)
}

func TestEventHandler_RejectsBadBody(t *testing.T) {
	d, _ := newTestDispatcher(t, nil, nil)
	h := NewHandler(d, "secret")

	t.Run("not json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/events", strings.NewReader("not json"))
		req.Header.Set("X-Queue-Secret", "secret")
		w := httptest.NewRecorder()
		h.FireEvent(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})

	t.Run("missing type", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/events", strings.NewReader(`{"payload":{}}`))
		req.Header.Set("X-Queue-Secret", "secret")
		w := httptest.NewRecorder()
		h.FireEvent(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
	})
}

func TestEventHandler_AcceptsAndDispatches(t *testing.T) {
	tg := &fakeTelegram{}
	d, backend := newTestDispatcher(t, tg, nil)
	h := NewHandler(d, "secret")

	req := httptest.NewRequest("POST", "/events",
		strings.NewReader(`{"type":"order.created","payload":{"order_id":"42"}}`))
	req.Header.Set("X-Queue-Secret", "secret")
	w := httptest.NewRecorder()
	h.FireEvent(w, req)

	assert.Equal(t, http.StatusAccepted, w.Result().StatusCode)

	// The request returns before delivery; wait for the detached dispatch.
	d.Wait()
	assert.Equal(t, 1, tg.count())

	svc := queue.NewService(backend, testLogger())
	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Counts[queue.StatusDone])
}
