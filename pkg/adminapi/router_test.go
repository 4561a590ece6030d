package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rqmirror/rqmirror/pkg/events"
	"github.com/rqmirror/rqmirror/pkg/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.New(queue.Config{Path: t.TempDir()}, &events.Bus{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestListQueue_ReturnsEveryEntry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	require.NoError(t, q.QueueRequest(ctx, queue.Entry{ParentPath: "/", Name: "a.txt", Method: queue.MethodPut, CreatedAt: time.Now()}))
	require.NoError(t, q.QueueRequest(ctx, queue.Entry{ParentPath: "/dir", Name: "b.txt", Method: queue.MethodPost, CreatedAt: time.Now()}))

	router := NewRouter(q, nil)
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var views []entryView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&views))
	require.Len(t, views, 2)
}

func TestListQueueForParent_ScopesToOneDirectory(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	require.NoError(t, q.QueueRequest(ctx, queue.Entry{ParentPath: "/", Name: "a.txt", Method: queue.MethodPut, CreatedAt: time.Now()}))
	require.NoError(t, q.QueueRequest(ctx, queue.Entry{ParentPath: "/dir", Name: "b.txt", Method: queue.MethodPost, CreatedAt: time.Now()}))

	router := NewRouter(q, nil)
	req := httptest.NewRequest(http.MethodGet, "/queue/dir", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Equal(t, map[string]string{"b.txt": "POST"}, got)
}

func TestStats_ReportsPendingCount(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)
	require.NoError(t, q.QueueRequest(ctx, queue.Entry{ParentPath: "/", Name: "a.txt", Method: queue.MethodPut, CreatedAt: time.Now()}))

	router := NewRouter(q, nil)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp statsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Equal(t, 1, resp.PendingCount)
	require.Equal(t, 0, resp.ActiveCount)
}

func TestPurgeQueue_WithoutProcessorReturnsUnavailable(t *testing.T) {
	q := newTestQueue(t)
	router := NewRouter(q, nil)

	req := httptest.NewRequest(http.MethodPost, "/queue/purge", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
