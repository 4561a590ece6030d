// Package rqtree is the write-back policy layer: it composes the local
// cache, the work metadata tree, the remote tree, and the durable request
// queue behind a single pkg/tree.Tree, the way the teacher's ContentService
// composes a store and a cache behind one interface per share
// (pkg/content/service.go). It hosts the caching protocol, the safe-delete
// predicate, and queue emission on close (spec.md §4.4).
package rqtree

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rqmirror/rqmirror/internal/keyedmutex"
	"github.com/rqmirror/rqmirror/internal/rqerrors"
	"github.com/rqmirror/rqmirror/pkg/events"
	"github.com/rqmirror/rqmirror/pkg/metrics"
	"github.com/rqmirror/rqmirror/pkg/pathutil"
	"github.com/rqmirror/rqmirror/pkg/queue"
	"github.com/rqmirror/rqmirror/pkg/tree"
	"github.com/rqmirror/rqmirror/pkg/tree/remotetree"
	"github.com/rqmirror/rqmirror/pkg/tree/worktree"
)

// Config tunes the RQ Tree's caching and queueing policy.
type Config struct {
	// ModifiedThreshold bounds the clock-skew/filesystem-timestamp jitter
	// tolerated between a local file's modification time and its last
	// sync marker before the safe-delete predicate refuses to treat it as
	// safe (spec.md §4.4.3).
	ModifiedThreshold time.Duration

	// TempPatterns layers additional glob patterns atop pathutil's built-in
	// temp-file set.
	TempPatterns []string

	// RemotePrefix and LocalPrefix are stamped onto every queued entry so
	// the sync processor can build wire URLs and local paths without
	// re-deriving them from configuration (spec.md §3 "Queue entry").
	RemotePrefix string
	LocalPrefix  string
}

// stoppable is satisfied by *pkg/syncproc.Processor. It is declared here,
// not imported, so pkg/rqtree never depends on pkg/syncproc (the processor
// depends on rqtree's queue and trees, not the reverse).
type stoppable interface {
	Stop()
}

// Tree implements pkg/tree.Tree as the policy layer described by spec.md
// §4.4: exists is local-or-remote, open always routes reads/writes through
// the caching protocol, list reconciles three sources of truth, and
// mutations decide what (if anything) to enqueue for the sync processor.
type Tree struct {
	local  tree.Tree
	work   *worktree.Tree
	remote remotetree.RemoteTree
	queue  *queue.Queue
	bus    *events.Bus
	cfg    Config

	dlgate  *keyedmutex.Map
	cache   dirCache
	metrics *metrics.Metrics

	mu           sync.Mutex
	createdFiles map[string]struct{}
	processor    stoppable
}

// New builds a Tree over the given sub-trees and queue.
func New(local tree.Tree, work *worktree.Tree, remote remotetree.RemoteTree, q *queue.Queue, bus *events.Bus, cfg Config) *Tree {
	return &Tree{
		local:        local,
		work:         work,
		remote:       remote,
		queue:        q,
		bus:          bus,
		cfg:          cfg,
		dlgate:       keyedmutex.New(),
		createdFiles: make(map[string]struct{}),
	}
}

// SetProcessor records the sync processor to be stopped on Disconnect. The
// processor is wired in after construction since it in turn depends on
// this Tree's queue and sub-trees.
func (t *Tree) SetProcessor(p stoppable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processor = p
}

// SetMetrics attaches m so subsequent cache and operation outcomes are
// observed. Safe to call at any time; nil detaches instrumentation.
func (t *Tree) SetMetrics(m *metrics.Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
}

func (t *Tree) isTemp(path string) bool {
	return pathutil.IsTemp(path, t.cfg.TempPatterns)
}

func (t *Tree) emitConflict(path string) {
	if t.bus != nil {
		t.bus.EmitSyncConflict(path)
	}
}

// Exists reports whether path is present locally or remotely (spec.md
// §4.4 "exists").
func (t *Tree) Exists(ctx context.Context, path string) (ok bool, err error) {
	defer func() { t.observeOp("exists", err) }()

	ok, err = t.local.Exists(ctx, path)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	return t.remote.Exists(ctx, path)
}

// observeOp reports a completed RQ Tree-level operation to the attached
// Metrics, if any.
func (t *Tree) observeOp(op string, err error) {
	t.metrics.ObserveTreeOp("rq", op, err)
	if se, ok := err.(*rqerrors.StoreError); ok {
		t.metrics.ObserveTreeError("rq", se.Code.String())
	}
}

// Open returns an RQFile wrapping the local handle if path is cached, or
// the remote handle otherwise. Reads and writes on the returned file go
// through the caching protocol (spec.md §4.4 "open", §4.4.1).
func (t *Tree) Open(ctx context.Context, path string) (f tree.File, err error) {
	defer func() { t.observeOp("open", err) }()

	localExists, err := t.local.Exists(ctx, path)
	if err != nil {
		return nil, err
	}

	var handle tree.File
	if localExists {
		handle, err = t.local.Open(ctx, path)
	} else {
		handle, err = t.remote.Open(ctx, path)
	}
	if err != nil {
		return nil, err
	}

	return &File{
		tr:     t,
		ctx:    ctx,
		path:   path,
		handle: handle,
		isTemp: t.isTemp(path),
	}, nil
}

// List returns the union of the remote and local directory listings for
// dir, reconciled per spec.md §4.4 "list".
func (t *Tree) List(ctx context.Context, dir string) ([]tree.FileInfo, error) {
	if cached, ok := t.cache.get(dir); ok {
		return cached, nil
	}

	remoteEntries, err := t.remote.List(ctx, dir)
	if err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return nil, err
	}
	localEntries, err := t.local.List(ctx, dir)
	if err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return nil, err
	}

	reqs, err := t.queue.GetRequests(ctx, dir)
	if err != nil {
		return nil, err
	}

	remoteByName := make(map[string]tree.FileInfo, len(remoteEntries))
	for _, e := range remoteEntries {
		remoteByName[pathutil.Leaf(e.Path)] = e
	}
	localByName := make(map[string]tree.FileInfo, len(localEntries))
	for _, e := range localEntries {
		localByName[pathutil.Leaf(e.Path)] = e
	}

	result := make([]tree.FileInfo, 0, len(remoteEntries)+len(localEntries))
	seen := make(map[string]struct{}, len(remoteByName))

	for name, remote := range remoteByName {
		if reqs[name] == queue.MethodDelete {
			continue
		}
		seen[name] = struct{}{}
		if local, ok := localByName[name]; ok {
			result = append(result, local)
			continue
		}
		result = append(result, remote)
	}

	for name, local := range localByName {
		if _, ok := seen[name]; ok {
			continue
		}

		if t.isTemp(local.Path) {
			result = append(result, local)
			continue
		}

		hasMarker, err := t.work.HasCreationMarker(ctx, local.Path)
		if err != nil {
			return nil, err
		}
		if hasMarker {
			result = append(result, local)
			continue
		}

		safe, err := t.isSafeToDelete(ctx, local)
		if err != nil {
			return nil, err
		}
		if safe {
			if err := t.purgeOrphan(ctx, local); err != nil {
				return nil, err
			}
			continue
		}
		result = append(result, local)
		t.emitConflict(local.Path)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	t.cache.set(dir, result)
	return result, nil
}

// isSafeToDelete implements spec.md §4.4.3.
func (t *Tree) isSafeToDelete(ctx context.Context, info tree.FileInfo) (bool, error) {
	if info.IsDir {
		return t.isDirSafeToDelete(ctx, info.Path)
	}
	return t.isFileSafeToDelete(ctx, info.Path)
}

func (t *Tree) isFileSafeToDelete(ctx context.Context, path string) (bool, error) {
	if t.isTemp(path) {
		return true, nil
	}

	hasMarker, err := t.work.HasCreationMarker(ctx, path)
	if err != nil {
		return false, err
	}
	if hasMarker {
		return false, nil
	}

	f, err := t.local.Open(ctx, path)
	if err != nil {
		return false, err
	}
	lastModified := f.Info().LastModified
	if err := f.Close(); err != nil {
		return false, err
	}

	syncedAt, err := t.work.SyncedAt(ctx, path)
	if err != nil {
		if rqerrors.Is(err, rqerrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	delta := lastModified.Sub(syncedAt)
	if delta < 0 {
		delta = -delta
	}
	return delta <= t.cfg.ModifiedThreshold, nil
}

// isDirSafeToDelete recurses per spec.md §4.4.3: safe iff every contained
// entry is safe, and each blocking file emits its own syncconflict.
func (t *Tree) isDirSafeToDelete(ctx context.Context, dir string) (bool, error) {
	entries, err := t.local.List(ctx, dir)
	if err != nil {
		if rqerrors.Is(err, rqerrors.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	safe := true
	for _, e := range entries {
		ok, err := t.isSafeToDelete(ctx, e)
		if err != nil {
			return false, err
		}
		if !ok {
			safe = false
			t.emitConflict(e.Path)
		}
	}
	return safe, nil
}

// purgeOrphan deletes a local-only entry (and, for a directory, everything
// beneath it) along with its work markers.
func (t *Tree) purgeOrphan(ctx context.Context, info tree.FileInfo) error {
	if info.IsDir {
		entries, err := t.local.List(ctx, info.Path)
		if err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
			return err
		}
		for _, e := range entries {
			if err := t.purgeOrphan(ctx, e); err != nil {
				return err
			}
		}
		if err := t.local.DeleteDirectory(ctx, info.Path); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
			return err
		}
		return nil
	}

	if err := t.local.Delete(ctx, info.Path); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return err
	}
	return t.work.DeleteMarkers(ctx, info.Path)
}

// materializeCache runs one step of the caching protocol of spec.md
// §4.4.1 steps 4-5 for path, given the handle currently held by the
// caller (nil if none). It returns the next handle to use, whether caching
// is now complete, or an error. A non-done result with a nil error means
// the local copy was just dropped as diverged and the caller should call
// materializeCache again to re-fetch (spec.md §4.4.1 step 4's "recursively
// re-invoke cacheFile").
func (t *Tree) materializeCache(ctx context.Context, path string, current tree.File) (tree.File, bool, error) {
	localExists, err := t.local.Exists(ctx, path)
	if err != nil {
		return nil, false, err
	}

	if !localExists {
		t.metrics.ObserveCacheResult(false)
		if current != nil {
			current.Close()
		}
		if _, err := t.remote.FetchResource(ctx, path); err != nil {
			return nil, false, err
		}
		t.metrics.ObserveCacheFill()
		if err := t.work.WriteSyncMarker(ctx, path, time.Now()); err != nil {
			return nil, false, err
		}
		localHandle, err := t.local.Open(ctx, path)
		if err != nil {
			return nil, false, err
		}
		return localHandle, true, nil
	}

	localHandle, err := t.local.Open(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if sameModTime(current, localHandle) {
		localHandle.Close()
		localHandle = current
	} else {
		current.Close()
	}

	hasMarker, err := t.work.HasCreationMarker(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if hasMarker {
		t.metrics.ObserveCacheResult(true)
		return localHandle, true, nil
	}

	remoteInfo, err := t.remote.StatRemote(ctx, path)
	if err != nil {
		return nil, false, err
	}
	syncedAt, err := t.work.SyncedAt(ctx, path)
	if err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return nil, false, err
	}

	safe, err := t.isFileSafeToDelete(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if !safe {
		parent, name := pathutil.Parent(path), pathutil.Leaf(path)
		hasQueueEntry, err := t.queue.Exists(ctx, parent, name)
		if err != nil {
			return nil, false, err
		}
		if !hasQueueEntry {
			t.emitConflict(path)
		}
		t.metrics.ObserveCacheResult(true)
		return localHandle, true, nil
	}

	delta := remoteInfo.LastModified.Sub(syncedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > divergenceThreshold {
		t.metrics.ObserveCacheResult(false)
		localHandle.Close()
		if err := t.local.Delete(ctx, path); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
			return nil, false, err
		}
		if err := t.work.DeleteMarkers(ctx, path); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	t.metrics.ObserveCacheResult(true)
	return localHandle, true, nil
}

func sameModTime(a, b tree.File) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Info().LastModified.Equal(b.Info().LastModified)
}

// CreateFile creates path locally, seeds a sync marker and creation marker,
// and records it in createdFiles. It is not enqueued here; enqueueing
// happens on close if the file ends up dirty (spec.md §4.4 "createFile").
func (t *Tree) CreateFile(ctx context.Context, path string) (err error) {
	defer func() { t.observeOp("createFile", err) }()

	if err := t.local.CreateFile(ctx, path); err != nil {
		return err
	}
	if err := t.work.WriteSyncMarker(ctx, path, time.Now()); err != nil {
		return err
	}
	if err := t.work.CreateCreationMarker(ctx, path); err != nil {
		return err
	}

	t.markCreated(path)
	t.cache.invalidate(pathutil.Parent(path))
	return nil
}

// CreateDirectory creates path locally then immediately remotely;
// directories are synchronous and never pass through the queue (spec.md
// §4.4 "createDirectory").
func (t *Tree) CreateDirectory(ctx context.Context, path string) (err error) {
	defer func() { t.observeOp("createDirectory", err) }()

	if err := t.local.CreateDirectory(ctx, path); err != nil {
		return err
	}
	if err := t.remote.CreateDirectory(ctx, path); err != nil {
		return err
	}
	t.cache.invalidate(pathutil.Parent(path))
	return nil
}

// Delete implements spec.md §4.4 "delete".
func (t *Tree) Delete(ctx context.Context, path string) (err error) {
	defer func() { t.observeOp("delete", err) }()

	parent, name := pathutil.Parent(path), pathutil.Leaf(path)

	localExists, err := t.local.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !localExists {
		return t.enqueue(ctx, path, queue.MethodDelete, "")
	}

	hadCreationMarker, err := t.work.HasCreationMarker(ctx, path)
	if err != nil {
		return err
	}
	hadQueueEntry, err := t.queue.Exists(ctx, parent, name)
	if err != nil {
		return err
	}

	if err := t.local.Delete(ctx, path); err != nil {
		return err
	}
	t.cache.invalidate(parent)

	if err := t.work.DeleteMarkers(ctx, path); err != nil {
		return err
	}
	t.unmarkCreated(path)

	if hadCreationMarker && !hadQueueEntry {
		// Never escaped to the remote: nothing to unwind there.
		return nil
	}
	return t.enqueue(ctx, path, queue.MethodDelete, "")
}

// DeleteDirectory implements spec.md §4.4 "deleteDirectory": local and
// remote delete are both synchronous, then the queue subtree and work
// subtree are dropped.
func (t *Tree) DeleteDirectory(ctx context.Context, path string) (err error) {
	defer func() { t.observeOp("deleteDirectory", err) }()

	if err := removeSubtree(ctx, t.local, path); err != nil {
		return err
	}
	if err := t.remote.DeleteDirectory(ctx, path); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return err
	}
	if err := t.queue.RemovePath(ctx, path); err != nil {
		return err
	}
	if err := removeSubtree(ctx, t.work, path); err != nil {
		return err
	}

	t.cache.invalidate(pathutil.Parent(path))
	t.cache.invalidate(path)
	return nil
}

// Rename implements spec.md §4.4 "rename".
func (t *Tree) Rename(ctx context.Context, oldPath, newPath string) (err error) {
	defer func() { t.observeOp("rename", err) }()

	localExists, err := t.local.Exists(ctx, oldPath)
	if err != nil {
		return err
	}
	if !localExists {
		return t.remote.Rename(ctx, oldPath, newPath)
	}

	isDir, err := t.isLocalDir(ctx, oldPath)
	if err != nil {
		return err
	}

	if err := t.local.Rename(ctx, oldPath, newPath); err != nil {
		return err
	}
	t.cache.invalidate(pathutil.Parent(oldPath))
	t.cache.invalidate(pathutil.Parent(newPath))

	if isDir {
		if err := t.remote.Rename(ctx, oldPath, newPath); err != nil {
			return err
		}
		return t.queue.UpdatePath(ctx, oldPath, newPath)
	}

	if err := t.work.RenameMarkers(ctx, oldPath, newPath); err != nil {
		return err
	}
	t.renameCreated(oldPath, newPath)

	return t.enqueueRename(ctx, oldPath, newPath)
}

// enqueueRename applies the temp-crossing transformations of spec.md §4.4
// "rename" before handing off to the queue.
func (t *Tree) enqueueRename(ctx context.Context, oldPath, newPath string) error {
	wasTemp, isTemp := t.isTemp(oldPath), t.isTemp(newPath)

	switch {
	case wasTemp && !isTemp:
		return t.enqueue(ctx, newPath, queue.MethodPut, "")
	case !wasTemp && isTemp:
		return t.enqueue(ctx, oldPath, queue.MethodDelete, "")
	case wasTemp && isTemp:
		return nil
	default:
		entry := queue.Entry{
			ParentPath:   pathutil.Parent(oldPath),
			Name:         pathutil.Leaf(oldPath),
			Method:       queue.MethodMove,
			DestPath:     newPath,
			RemotePrefix: t.cfg.RemotePrefix,
			LocalPrefix:  t.cfg.LocalPrefix,
			CreatedAt:    time.Now(),
		}
		return t.queue.QueueRequest(ctx, entry)
	}
}

// enqueue queues a single-path mutation, honoring the invariant that temp
// and forbidden ("dot") paths are never queued (spec.md §4.4.2, §4.1).
func (t *Tree) enqueue(ctx context.Context, path string, method queue.Method, destPath string) error {
	if t.isTemp(path) || pathutil.IsForbidden(path) {
		return nil
	}
	entry := queue.Entry{
		ParentPath:   pathutil.Parent(path),
		Name:         pathutil.Leaf(path),
		Method:       method,
		DestPath:     destPath,
		RemotePrefix: t.cfg.RemotePrefix,
		LocalPrefix:  t.cfg.LocalPrefix,
		CreatedAt:    time.Now(),
	}
	return t.queue.QueueRequest(ctx, entry)
}

// isLocalDir distinguishes a directory from a file on the local tree
// without relying on Open (opening a directory for read/write is not
// portable). Listing a non-directory fails, so a successful List means dir.
func (t *Tree) isLocalDir(ctx context.Context, path string) (bool, error) {
	if _, err := t.local.List(ctx, path); err == nil {
		return true, nil
	}
	return false, nil
}

// InvalidateCache drops any cached listing for dir. The sync processor calls
// this after a successful upload or delete (spec.md §4.5 step 5); CreateFile,
// CreateDirectory, Delete, DeleteDirectory, and Rename already do the same
// for their own parent directories.
func (t *Tree) InvalidateCache(dir string) {
	t.cache.invalidate(dir)
}

// Disconnect stops the sync processor, if one was wired in, then
// disconnects every sub-tree, aggregating errors (spec.md §4.4
// "disconnect").
func (t *Tree) Disconnect() error {
	t.mu.Lock()
	proc := t.processor
	t.mu.Unlock()
	if proc != nil {
		proc.Stop()
	}

	return errors.Join(
		t.local.Disconnect(),
		t.work.Disconnect(),
		t.remote.Disconnect(),
	)
}

func (t *Tree) markCreated(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createdFiles[path] = struct{}{}
}

func (t *Tree) unmarkCreated(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.createdFiles, path)
}

func (t *Tree) renameCreated(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.createdFiles[oldPath]; ok {
		delete(t.createdFiles, oldPath)
		t.createdFiles[newPath] = struct{}{}
	}
}

// wasCreatedLocally is consulted by File.Close when the work marker cannot
// yet be read (spec.md §3 "RQ Tree state").
func (t *Tree) wasCreatedLocally(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.createdFiles[path]
	return ok
}

// removeSubtree recursively empties dir on tr before removing dir itself,
// since every concrete Tree.DeleteDirectory rejects a non-empty directory.
func removeSubtree(ctx context.Context, tr tree.Tree, dir string) error {
	entries, err := tr.List(ctx, dir)
	if err != nil {
		if rqerrors.Is(err, rqerrors.ErrNotFound) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			if err := removeSubtree(ctx, tr, e.Path); err != nil {
				return err
			}
			continue
		}
		if err := tr.Delete(ctx, e.Path); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
			return err
		}
	}
	if err := tr.DeleteDirectory(ctx, dir); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return err
	}
	return nil
}

// dirCache is a small invalidate-on-mutation cache of directory listings,
// keeping List cheap for repeated reads of the same directory (spec.md
// §4.4 "createFile"/§4.5 step 5 both call for "invalidate the parent's
// content cache"). Grounded on the cache.Cache role in pkg/content/service.go,
// narrowed here to exactly what list() needs to invalidate.
type dirCache struct {
	mu      sync.Mutex
	entries map[string][]tree.FileInfo
}

func (c *dirCache) get(dir string) ([]tree.FileInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[dir]
	return v, ok
}

func (c *dirCache) set(dir string, infos []tree.FileInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string][]tree.FileInfo)
	}
	c.entries[dir] = infos
}

func (c *dirCache) invalidate(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, dir)
}

var _ tree.Tree = (*Tree)(nil)
