package rqtree

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rqmirror/rqmirror/internal/rqerrors"
	"github.com/rqmirror/rqmirror/pkg/events"
	"github.com/rqmirror/rqmirror/pkg/queue"
	"github.com/rqmirror/rqmirror/pkg/tree"
	"github.com/rqmirror/rqmirror/pkg/tree/localtree"
	"github.com/rqmirror/rqmirror/pkg/tree/remotetree"
	"github.com/rqmirror/rqmirror/pkg/tree/worktree"
)

// fakeRemoteTree is a minimal in-memory remotetree.RemoteTree: enough for
// rqtree's policy logic without standing up an HTTP server or S3 client.
type fakeRemoteTree struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time
	dirs     map[string]bool
	localDir string
}

func newFakeRemoteTree(localDir string) *fakeRemoteTree {
	return &fakeRemoteTree{
		objects:  map[string][]byte{},
		modified: map[string]time.Time{},
		dirs:     map[string]bool{"/": true},
		localDir: localDir,
	}
}

func (f *fakeRemoteTree) put(path string, body []byte, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = body
	f.modified[path] = modified
}

func (f *fakeRemoteTree) Exists(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[path]; ok {
		return true, nil
	}
	return f.dirs[path], nil
}

func (f *fakeRemoteTree) Open(ctx context.Context, path string) (tree.File, error) {
	f.mu.Lock()
	_, ok := f.objects[path]
	f.mu.Unlock()
	if !ok {
		return nil, rqerrors.NewNotFound(path)
	}
	return &fakeRemoteFile{f: f, path: path}, nil
}

// fakeRemoteFile is the read-only handle Tree.Open wraps before a path has
// been materialized locally. Every method that would mutate remote content
// is unreachable in practice: the RQ Tree only reads through it, or
// discards it once the caching protocol fetches a local copy.
type fakeRemoteFile struct {
	f    *fakeRemoteTree
	path string
}

func (r *fakeRemoteFile) Info() tree.FileInfo {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	body := r.f.objects[r.path]
	return tree.FileInfo{Path: r.path, Size: int64(len(body)), LastModified: r.f.modified[r.path]}
}

func (r *fakeRemoteFile) ReadAt(buf []byte, off int64) (int, error) {
	r.f.mu.Lock()
	body, ok := r.f.objects[r.path]
	r.f.mu.Unlock()
	if !ok {
		return 0, rqerrors.NewNotFound(r.path)
	}
	if off >= int64(len(body)) {
		return 0, io.EOF
	}
	n := copy(buf, body[off:])
	return n, nil
}

func (r *fakeRemoteFile) WriteAt(buf []byte, off int64) (int, error) {
	return 0, rqerrors.New(rqerrors.ErrNotSupported, r.path, "remote handles are read-only")
}

func (r *fakeRemoteFile) SetLength(n int64) error {
	return rqerrors.New(rqerrors.ErrNotSupported, r.path, "remote handles are read-only")
}

func (r *fakeRemoteFile) Delete() error                      { return r.f.Delete(context.Background(), r.path) }
func (r *fakeRemoteFile) Flush() error                        { return nil }
func (r *fakeRemoteFile) Close() error                        { return nil }
func (r *fakeRemoteFile) SetLastModified(t time.Time) error   { return nil }

var _ tree.File = (*fakeRemoteFile)(nil)

func (f *fakeRemoteTree) List(ctx context.Context, dir string) ([]tree.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := strings.TrimSuffix(dir, "/") + "/"
	var infos []tree.FileInfo
	for p, body := range f.objects {
		rest := strings.TrimPrefix(p, prefix)
		if rest == p || strings.Contains(rest, "/") {
			continue
		}
		infos = append(infos, tree.FileInfo{Path: p, Size: int64(len(body)), LastModified: f.modified[p]})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func (f *fakeRemoteTree) CreateFile(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = nil
	f.modified[path] = time.Now()
	return nil
}

func (f *fakeRemoteTree) CreateDirectory(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[path] = true
	return nil
}

func (f *fakeRemoteTree) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	delete(f.modified, path)
	return nil
}

func (f *fakeRemoteTree) DeleteDirectory(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.dirs, path)
	return nil
}

func (f *fakeRemoteTree) Rename(ctx context.Context, oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if body, ok := f.objects[oldPath]; ok {
		f.objects[newPath] = body
		f.modified[newPath] = f.modified[oldPath]
		delete(f.objects, oldPath)
		delete(f.modified, oldPath)
	}
	return nil
}

func (f *fakeRemoteTree) Disconnect() error { return nil }

func (f *fakeRemoteTree) FetchResource(ctx context.Context, remotePath string) (string, error) {
	f.mu.Lock()
	body, ok := f.objects[remotePath]
	f.mu.Unlock()
	if !ok {
		return "", rqerrors.NewNotFound(remotePath)
	}

	localPath := filepath.Join(f.localDir, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(localPath, body, 0644); err != nil {
		return "", err
	}
	return localPath, nil
}

func (f *fakeRemoteTree) StatRemote(ctx context.Context, path string) (tree.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[path]
	if !ok {
		return tree.FileInfo{}, rqerrors.NewNotFound(path)
	}
	return tree.FileInfo{Path: path, Size: int64(len(body)), LastModified: f.modified[path]}, nil
}

// Upload ignores method, same as s3remote: every body-carrying write just
// replaces the object.
func (f *fakeRemoteTree) Upload(ctx context.Context, method, path string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
	f.modified[path] = time.Now()
	return nil
}

var _ remotetree.RemoteTree = (*fakeRemoteTree)(nil)

func newTestTree(t *testing.T) (*Tree, *fakeRemoteTree) {
	t.Helper()

	localDir := t.TempDir()
	local, err := localtree.New(localtree.Config{BasePath: localDir, CreateDir: true, DirMode: 0755, FileMode: 0644})
	require.NoError(t, err)

	work, err := worktree.New(worktree.Config{BasePath: t.TempDir()})
	require.NoError(t, err)

	bus := &events.Bus{}
	q, err := queue.New(queue.Config{Path: t.TempDir()}, bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	remote := newFakeRemoteTree(localDir)

	tr := New(local, work, remote, q, bus, Config{ModifiedThreshold: 500 * time.Millisecond})
	return tr, remote
}

func TestExistsLocalOrRemote(t *testing.T) {
	ctx := context.Background()
	tr, remote := newTestTree(t)

	ok, err := tr.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	remote.put("/a.txt", []byte("hi"), time.Now())
	ok, err = tr.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenFetchesRemoteOnFirstRead(t *testing.T) {
	ctx := context.Background()
	tr, remote := newTestTree(t)
	remote.put("/a.txt", []byte("hello"), time.Now())

	f, err := tr.Open(ctx, "/a.txt")
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	require.NoError(t, f.Close())

	localExists, err := tr.local.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.True(t, localExists)
}

func TestCreateWriteCloseEnqueuesPut(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t)

	require.NoError(t, tr.CreateFile(ctx, "/new.txt"))

	f, err := tr.Open(ctx, "/new.txt")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("data"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reqs, err := tr.queue.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, queue.MethodPut, reqs["new.txt"])
}

func TestWriteExistingFileEnqueuesPost(t *testing.T) {
	ctx := context.Background()
	tr, remote := newTestTree(t)
	remote.put("/a.txt", []byte("hello"), time.Now())

	f, err := tr.Open(ctx, "/a.txt")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("world"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reqs, err := tr.queue.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, queue.MethodPost, reqs["a.txt"])
}

func TestDeleteNeverSyncedDoesNotEnqueue(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t)

	require.NoError(t, tr.CreateFile(ctx, "/new.txt"))
	require.NoError(t, tr.Delete(ctx, "/new.txt"))

	reqs, err := tr.queue.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, reqs)
}

func TestDeleteSyncedFileEnqueuesDelete(t *testing.T) {
	ctx := context.Background()
	tr, remote := newTestTree(t)
	remote.put("/a.txt", []byte("hi"), time.Now())

	f, err := tr.Open(ctx, "/a.txt")
	require.NoError(t, err)
	_ = f.Info() // force cacheFile to materialize the local copy
	require.NoError(t, f.Close())

	require.NoError(t, tr.Delete(ctx, "/a.txt"))

	reqs, err := tr.queue.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, queue.MethodDelete, reqs["a.txt"])
}

func TestRenameFileEnqueuesMove(t *testing.T) {
	ctx := context.Background()
	tr, remote := newTestTree(t)
	remote.put("/a.txt", []byte("hi"), time.Now())

	f, err := tr.Open(ctx, "/a.txt")
	require.NoError(t, err)
	_ = f.Info()
	require.NoError(t, f.Close())

	require.NoError(t, tr.Rename(ctx, "/a.txt", "/b.txt"))

	reqs, err := tr.queue.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, queue.MethodMove, reqs["a.txt"])
}

func TestRenameTempToNonTempBecomesPut(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t)
	require.NoError(t, tr.local.CreateFile(ctx, "/.tmp.swp"))

	require.NoError(t, tr.Rename(ctx, "/.tmp.swp", "/real.txt"))

	reqs, err := tr.queue.GetRequests(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, queue.MethodPut, reqs["real.txt"])
}

func TestCreateDirectoryCreatesLocalAndRemote(t *testing.T) {
	ctx := context.Background()
	tr, remote := newTestTree(t)

	require.NoError(t, tr.CreateDirectory(ctx, "/sub"))

	exists, err := tr.local.Exists(ctx, "/sub")
	require.NoError(t, err)
	assert.True(t, exists)

	remoteExists, err := remote.Exists(ctx, "/sub")
	require.NoError(t, err)
	assert.True(t, remoteExists)
}

func TestDeleteDirectoryRemovesSubtreeAndQueueEntries(t *testing.T) {
	ctx := context.Background()
	tr, remote := newTestTree(t)

	require.NoError(t, tr.CreateDirectory(ctx, "/dir"))
	require.NoError(t, tr.CreateFile(ctx, "/dir/a.txt"))
	require.NoError(t, tr.queue.QueueRequest(ctx, queue.Entry{
		ParentPath: "/dir", Name: "a.txt", Method: queue.MethodPut, CreatedAt: time.Now(),
	}))

	require.NoError(t, tr.DeleteDirectory(ctx, "/dir"))

	exists, err := tr.local.Exists(ctx, "/dir")
	require.NoError(t, err)
	assert.False(t, exists)

	reqs, err := tr.queue.GetRequests(ctx, "/dir")
	require.NoError(t, err)
	assert.Empty(t, reqs)

	remoteExists, err := remote.Exists(ctx, "/dir")
	require.NoError(t, err)
	assert.False(t, remoteExists)
}

func TestListReconcilesRemoteAndLocal(t *testing.T) {
	ctx := context.Background()
	tr, remote := newTestTree(t)
	remote.put("/a.txt", []byte("hi"), time.Now())

	infos, err := tr.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "/a.txt", infos[0].Path)
}

func TestListPurgesSafeOrphan(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t)

	// A local file with no creation marker and a fresh sync marker but no
	// remote counterpart: the remote must have deleted it after caching.
	require.NoError(t, tr.local.CreateFile(ctx, "/orphan.txt"))
	require.NoError(t, tr.work.WriteSyncMarker(ctx, "/orphan.txt", time.Now()))

	infos, err := tr.List(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, infos)

	exists, err := tr.local.Exists(ctx, "/orphan.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestListKeepsUnsafeOrphanAndEmitsConflict(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTree(t)

	var gotConflict string
	bus := &events.Bus{}
	bus.OnSyncConflict(func(path string) { gotConflict = path })
	tr.bus = bus

	require.NoError(t, tr.local.CreateFile(ctx, "/dirty.txt"))
	require.NoError(t, tr.work.WriteSyncMarker(ctx, "/dirty.txt", time.Now().Add(-time.Hour)))

	infos, err := tr.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "/dirty.txt", infos[0].Path)
	assert.Equal(t, "/dirty.txt", gotConflict)
}

func TestDisconnectAggregatesSubTrees(t *testing.T) {
	tr, _ := newTestTree(t)
	require.NoError(t, tr.Disconnect())
}
