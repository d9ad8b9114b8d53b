package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
	"golang.org/x/time/rate"
)

func newTestNotifier(t *testing.T, method string, limiter *rate.Limiter) *Notifier {
	t.Helper()
	n, err := NewNotifier(&http.Client{Timeout: time.Second}, method, limiter, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return n
}

func TestNotifyPostsStatus(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := newTestNotifier(t, "", nil)
	err := n.Notify(context.Background(), model.NewCallbackTask(5, srv.URL, model.ExportStatusCompleted))
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"export_id": float64(5), "status": "Completed"}, got)
}

func TestNotifyUsesConfiguredMethod(t *testing.T) {
	var method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	defer srv.Close()

	n := newTestNotifier(t, http.MethodPut, nil)
	require.NoError(t, n.Notify(context.Background(), model.NewCallbackTask(5, srv.URL, model.ExportStatusFailed)))
	assert.Equal(t, http.MethodPut, method)
}

func TestNotifyNon2xxIsSingleAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := newTestNotifier(t, "", nil)
	err := n.Notify(context.Background(), model.NewCallbackTask(9, srv.URL, model.ExportStatusFailed))

	var nErr *errors.NotificationError
	require.ErrorAs(t, err, &nErr)
	assert.Equal(t, http.StatusBadGateway, nErr.StatusCode)
	assert.Equal(t, int64(9), nErr.ExportID)
	assert.Equal(t, int32(1), hits.Load())
}

func TestNotifyTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	n, err := NewNotifier(&http.Client{Timeout: 50 * time.Millisecond}, "", nil, nil)
	require.NoError(t, err)

	err = n.Notify(context.Background(), model.NewCallbackTask(1, srv.URL, model.ExportStatusCompleted))
	var nErr *errors.NotificationError
	require.ErrorAs(t, err, &nErr)
	assert.Zero(t, nErr.StatusCode)
	assert.Error(t, nErr.Cause)
}

func TestNotifierRequiresTimeout(t *testing.T) {
	_, err := NewNotifier(&http.Client{}, "", nil, nil)
	assert.Error(t, err)
}

func TestNotifyRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	n := newTestNotifier(t, "", rate.NewLimiter(rate.Every(time.Hour), 1))
	require.NoError(t, n.Notify(context.Background(), model.NewCallbackTask(1, srv.URL, model.ExportStatusCompleted)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.Notify(ctx, model.NewCallbackTask(2, srv.URL, model.ExportStatusCompleted))
	var nErr *errors.NotificationError
	require.ErrorAs(t, err, &nErr)
}
