package httpremote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu       map[string][]byte
	modified map[string]time.Time
	renamed  map[string]string
}

func newFakeServer(t *testing.T) (*httptest.Server, *fakeRemote) {
	t.Helper()
	fr := &fakeRemote{mu: map[string][]byte{}, modified: map[string]time.Time{}, renamed: map[string]string{}}

	handler := http.NewServeMux()
	handler.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch r.Method {
		case http.MethodHead:
			if _, ok := fr.mu[path]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Last-Modified", fr.modified[path].UTC().Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			if r.URL.Query().Get("list") == "1" {
				type entry struct {
					Name         string    `json:"name"`
					IsDir        bool      `json:"isDir"`
					Size         int64     `json:"size"`
					LastModified time.Time `json:"lastModified"`
				}
				_ = json.NewEncoder(w).Encode([]entry{{Name: "a.txt", Size: 4, LastModified: time.Now()}})
				return
			}
			body, ok := fr.mu[path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(body)
		case http.MethodPut, http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			fr.mu[path] = body
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			delete(fr.mu, path)
			w.WriteHeader(http.StatusOK)
		case "MOVE":
			dest := r.Header.Get("Destination")
			fr.renamed[path] = dest
			if body, ok := fr.mu[path]; ok {
				fr.mu[dest] = body
				delete(fr.mu, path)
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, fr
}

func TestExists(t *testing.T) {
	srv, fr := newFakeServer(t)
	fr.mu["/a.txt"] = []byte("abcd")

	tr, err := New(Config{BaseURL: srv.URL, LocalBasePath: t.TempDir()})
	require.NoError(t, err)

	ok, err := tr.Exists(context.Background(), "/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Exists(context.Background(), "/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUploadThenFetchResource(t *testing.T) {
	srv, _ := newFakeServer(t)
	localDir := t.TempDir()
	tr, err := New(Config{BaseURL: srv.URL, LocalBasePath: localDir})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, tr.Upload(ctx, http.MethodPut, "/a.txt", strReader("abcd"), 4))

	localPath, err := tr.FetchResource(ctx, "/a.txt")
	require.NoError(t, err)

	data, err := readFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "abcd", data)
}

func TestDelete(t *testing.T) {
	srv, fr := newFakeServer(t)
	fr.mu["/a.txt"] = []byte("abcd")

	tr, err := New(Config{BaseURL: srv.URL, LocalBasePath: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, tr.Delete(context.Background(), "/a.txt"))
	_, ok := fr.mu["/a.txt"]
	assert.False(t, ok)
}

func TestRenameSendsDestinationHeader(t *testing.T) {
	srv, fr := newFakeServer(t)
	fr.mu["/a.txt"] = []byte("abcd")

	tr, err := New(Config{BaseURL: srv.URL, LocalBasePath: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, tr.Rename(context.Background(), "/a.txt", "/b.txt"))
	assert.Equal(t, "/b.txt", fr.renamed["/a.txt"])
	_, ok := fr.mu["/b.txt"]
	assert.True(t, ok)
}

func TestListParsesEntries(t *testing.T) {
	srv, _ := newFakeServer(t)
	tr, err := New(Config{BaseURL: srv.URL, LocalBasePath: t.TempDir()})
	require.NoError(t, err)

	infos, err := tr.List(context.Background(), "/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "/a.txt", infos[0].Path)
	assert.EqualValues(t, 4, infos[0].Size)
}

func TestStatRemoteParsesLastModified(t *testing.T) {
	srv, fr := newFakeServer(t)
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fr.mu["/a.txt"] = []byte("abcd")
	fr.modified["/a.txt"] = when

	tr, err := New(Config{BaseURL: srv.URL, LocalBasePath: t.TempDir()})
	require.NoError(t, err)

	info, err := tr.StatRemote(context.Background(), "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, when, info.LastModified.UTC())

	_, err = tr.StatRemote(context.Background(), "/missing.txt")
	require.Error(t, err)
}

func strReader(s string) *stringReadSeeker { return &stringReadSeeker{s: s} }

type stringReadSeeker struct {
	s   string
	pos int
}

func (r *stringReadSeeker) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}
