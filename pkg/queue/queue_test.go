package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rqmirror/rqmirror/pkg/events"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	bus := &events.Bus{}
	q, err := New(Config{Path: t.TempDir()}, bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueueRequestThenExists(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))

	ok, err := q.Exists(ctx, "/", "a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCoalescePutThenPostKeepsPut(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))
	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPost, CreatedAt: time.Now()}))

	reqs, err := q.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, MethodPut, reqs["a.txt"])
}

func TestCoalescePutThenDeleteRemovesEntry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))
	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodDelete, CreatedAt: time.Now()}))

	ok, err := q.Exists(ctx, "/", "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoalescePostThenDeleteBecomesDelete(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPost, CreatedAt: time.Now()}))
	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodDelete, CreatedAt: time.Now()}))

	reqs, err := q.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, MethodDelete, reqs["a.txt"])
}

func TestCoalesceDeleteThenPutBecomesPut(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodDelete, CreatedAt: time.Now()}))
	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))

	reqs, err := q.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, MethodPut, reqs["a.txt"])
}

func TestCoalescePostThenPostKeepsNewest(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	first := time.Now().Add(-time.Hour)
	second := time.Now()

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPost, CreatedAt: first}))
	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPost, CreatedAt: second}))

	req, err := q.GetProcessRequest(ctx, 0, 100, 0)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.WithinDuration(t, second, req.CreatedAt, time.Second)
}

func TestGetProcessRequestRespectsExpiration(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))

	req, err := q.GetProcessRequest(ctx, time.Hour, 5, time.Second)
	require.NoError(t, err)
	assert.Nil(t, req)

	req, err = q.GetProcessRequest(ctx, 0, 5, time.Second)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "a.txt", req.Name)
}

func TestCompleteRequestRemovesEntry(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))
	require.NoError(t, q.CompleteRequest(ctx, "/", "a.txt"))

	ok, err := q.Exists(ctx, "/", "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIncrementRetryCount(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, q.IncrementRetryCount(ctx, "/", "a.txt"))

	req, err := q.GetProcessRequest(ctx, 0, 5, 0)
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, 1, req.Retries)
}

func TestPurgeFailedRequests(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))
	for i := 0; i < 5; i++ {
		require.NoError(t, q.IncrementRetryCount(ctx, "/", "a.txt"))
	}

	purged, err := q.PurgeFailedRequests(ctx, 5)
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, "a.txt", purged[0].Name)

	ok, err := q.Exists(ctx, "/", "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdatePathRewritesParent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/old/sub", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))
	require.NoError(t, q.UpdatePath(ctx, "/old", "/new"))

	reqs, err := q.GetRequests(ctx, "/new/sub")
	require.NoError(t, err)
	assert.Contains(t, reqs, "a.txt")

	reqs, err = q.GetRequests(ctx, "/old/sub")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestRemovePathDropsSubtree(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/dir/sub", Name: "a.txt", Method: MethodPut, CreatedAt: time.Now()}))
	require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/other", Name: "b.txt", Method: MethodPut, CreatedAt: time.Now()}))

	require.NoError(t, q.RemovePath(ctx, "/dir"))

	reqs, err := q.GetRequests(ctx, "/dir/sub")
	require.NoError(t, err)
	assert.Empty(t, reqs)

	reqs, err = q.GetRequests(ctx, "/other")
	require.NoError(t, err)
	assert.Contains(t, reqs, "b.txt")
}

func TestAtMostOneEntryPerPath(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.QueueRequest(ctx, Entry{ParentPath: "/", Name: "a.txt", Method: MethodPost, CreatedAt: time.Now()}))
	}

	reqs, err := q.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, reqs, 1)
}
