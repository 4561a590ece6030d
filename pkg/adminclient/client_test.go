package adminclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListQueue_DecodesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queue", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]Entry{
			{Path: "/a.txt", ParentPath: "/", Name: "a.txt", Method: "PUT"},
		})
	}))
	defer srv.Close()

	entries, err := New(srv.URL).ListQueue()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/a.txt", entries[0].Path)
	assert.Equal(t, "PUT", entries[0].Method)
}

func TestListQueueForParent_DecodesNameMethodMap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/queue/docs", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"b.txt": "POST"})
	}))
	defer srv.Close()

	result, err := New(srv.URL).ListQueueForParent("docs")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b.txt": "POST"}, result)
}

func TestStats_DecodesCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stats", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Stats{PendingCount: 3, ActiveCount: 1})
	}))
	defer srv.Close()

	stats, err := New(srv.URL).Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PendingCount)
	assert.Equal(t, 1, stats.ActiveCount)
}

func TestPurge_PostsAndDecodesPurgedEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/queue/purge", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]Entry{{Path: "/poisoned.txt", Method: "PUT"}})
	}))
	defer srv.Close()

	purged, err := New(srv.URL).Purge()
	require.NoError(t, err)
	require.Len(t, purged, 1)
	assert.Equal(t, "/poisoned.txt", purged[0].Path)
}

func TestDo_NonOKStatusReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no sync processor configured"})
	}))
	defer srv.Close()

	_, err := New(srv.URL).Purge()
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "no sync processor configured", apiErr.Message)
}
