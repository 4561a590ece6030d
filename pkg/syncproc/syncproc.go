// Package syncproc is the background worker that drains the durable request
// queue into the remote tree: one cooperative loop, grounded on the
// teacher's AutoFlushWriteCache (pkg/content/cache/auto_flush.go) for its
// ticker/stopCh/doneCh/sync.Once shutdown shape, implementing the request
// lifecycle of spec.md §4.5.
package syncproc

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rqmirror/rqmirror/internal/logger"
	"github.com/rqmirror/rqmirror/internal/rqerrors"
	"github.com/rqmirror/rqmirror/pkg/events"
	"github.com/rqmirror/rqmirror/pkg/metrics"
	"github.com/rqmirror/rqmirror/pkg/pathutil"
	"github.com/rqmirror/rqmirror/pkg/queue"
	"github.com/rqmirror/rqmirror/pkg/tree"
	"github.com/rqmirror/rqmirror/pkg/tree/remotetree"
	"github.com/rqmirror/rqmirror/pkg/tree/worktree"
)

// Config tunes the processor's scheduling, retry, and cache-invalidation
// policy (spec.md §4.5).
type Config struct {
	// Frequency is the ticker period between processing passes.
	Frequency time.Duration

	// Expiration is the minimum age a queue entry must reach before it is
	// eligible for processing, giving a rapidly-edited file a chance to
	// settle before it is uploaded.
	Expiration time.Duration

	// MaxRetries is the retry budget before an entry is purged as poisoned.
	// Zero or less selects 5.
	MaxRetries int

	// RetryDelay is the fixed delay after a failed attempt before the entry
	// is eligible again; it does not grow with the retry count.
	RetryDelay time.Duration

	// InvalidateCache is called with a directory path after a queue entry
	// under it is completed, so the RQ Tree's listing cache is dropped
	// (spec.md §4.5 step 5). Wired to rqtree.Tree.InvalidateCache by
	// whoever constructs both; nil is a safe no-op, useful in tests that
	// exercise the processor against a bare queue and trees.
	InvalidateCache func(parentPath string)

	// Metrics receives per-attempt counters and histograms. A nil Metrics
	// is a safe no-op, so callers that don't wire a registry pay nothing.
	Metrics *metrics.Metrics
}

// Processor is the single logical worker of spec.md §4.5: it pops the
// oldest eligible queue entry, performs the wire-verb-inverted upload,
// delete, or rename, and updates the work markers on success. The active
// map tracks one cancellable context per in-flight path so a superseding local
// write can abort a sync that is now stale.
type Processor struct {
	queue  *queue.Queue
	local  tree.Tree
	remote remotetree.RemoteTree
	work   *worktree.Tree
	bus    *events.Bus
	cfg    Config

	active sync.Map // path (string) -> context.CancelFunc

	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a Processor over q, reading local file bodies from local and
// writing them through remote, refreshing work through work. bus receives
// sync lifecycle events and feeds itemupdated/pathupdated back in for
// cancellation.
func New(q *queue.Queue, local tree.Tree, remote remotetree.RemoteTree, work *worktree.Tree, bus *events.Bus, cfg Config) *Processor {
	if cfg.Frequency <= 0 {
		cfg.Frequency = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	p := &Processor{
		queue:  q,
		local:  local,
		remote: remote,
		work:   work,
		bus:    bus,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	if bus != nil {
		bus.OnItemUpdated(p.abortPath)
		bus.OnPathUpdated(p.abortPrefix)
	}

	return p
}

// Start begins the background loop. Idempotent.
func (p *Processor) Start() {
	p.startOnce.Do(func() { go p.loop() })
}

// Stop cancels the loop and every in-flight request, then waits for the
// worker goroutine to exit. Idempotent.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		<-p.doneCh
	})
}

func (p *Processor) loop() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.cfg.Frequency)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.abortAll()
			return
		case <-ticker.C:
			p.Tick(context.Background())
		}
	}
}

// Tick drains every currently eligible queue entry, then purges whatever is
// left poisoned, mirroring spec.md §4.5's "loop to step 1" / "after the loop
// drains" structure for a single pass of the ticker.
func (p *Processor) Tick(ctx context.Context) {
	for {
		processed, err := p.RunOnce(ctx)
		if err != nil {
			logger.Warn("sync processor pass failed", logger.Err(err))
			break
		}
		if !processed {
			break
		}
	}
	p.purgeFailed(ctx)
}

// RunOnce performs one step of spec.md §4.5 steps 1-6: pop the oldest
// eligible entry and apply it. It returns false when the queue has nothing
// left to offer this pass. Exported so Config.NoProcessor callers (and
// tests) can drive the loop without a ticker.
func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	entry, err := p.queue.GetProcessRequest(ctx, p.cfg.Expiration, p.cfg.MaxRetries, p.cfg.RetryDelay)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	path := entry.Path()

	// spec.md §4.5 step 2: forbidden names are failed immediately rather
	// than ever reaching the remote.
	if pathutil.IsForbidden(path) {
		logger.Warn("forbidden path reached the queue, incrementing retry", logger.Path(path))
		if err := p.queue.IncrementRetryCount(ctx, entry.ParentPath, entry.Name); err != nil {
			return true, err
		}
		return true, nil
	}

	if p.bus != nil {
		p.bus.EmitSyncFileStart(path)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	p.active.Store(path, cancel)
	p.reportActiveCount()

	started := time.Now()
	applyErr := p.apply(reqCtx, *entry)
	p.cfg.Metrics.ObserveSyncAttempt(string(entry.Method), applyErr, time.Since(started))

	// Remove before cancel: once the entry is gone from active, a racing
	// itemupdated callback for this same path is a harmless no-op rather
	// than cancelling a context nobody is waiting on anymore.
	p.active.Delete(path)
	p.reportActiveCount()
	cancel()

	if applyErr != nil {
		return true, p.handleFailure(ctx, *entry, applyErr)
	}

	return true, p.handleSuccess(ctx, *entry)
}

func (p *Processor) handleSuccess(ctx context.Context, entry queue.Entry) error {
	path := entry.Path()

	if err := p.queue.CompleteRequest(ctx, entry.ParentPath, entry.Name); err != nil {
		return err
	}

	if p.cfg.InvalidateCache != nil {
		p.cfg.InvalidateCache(entry.ParentPath)
	}

	if entry.Method != queue.MethodDelete {
		if err := p.refreshMarkers(ctx, path); err != nil {
			// Markers are an optimization for the caching protocol, not the
			// source of truth for remote state; log and move on rather than
			// re-queuing a transfer that already succeeded.
			logger.Warn("failed to refresh sync markers after upload", logger.Path(path), logger.Err(err))
		}
	}

	if p.bus != nil {
		p.bus.EmitSyncFileEnd(path)
	}
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, entry queue.Entry, applyErr error) error {
	path := entry.Path()

	if errors.Is(applyErr, context.Canceled) {
		// Superseded by a newer local write; re-read on the next tick
		// rather than counting against the retry budget.
		p.cfg.Metrics.ObserveSyncAbort()
		if p.bus != nil {
			p.bus.EmitSyncAbort(path)
		}
		return nil
	}

	if se, ok := applyErr.(*rqerrors.StoreError); ok && rqerrors.ClassifyCode(se.Code) == rqerrors.KindConflict {
		p.cfg.Metrics.ObserveSyncConflict()
		if p.bus != nil {
			p.bus.EmitSyncConflict(path)
		}
	}

	logger.Warn("sync attempt failed", logger.Path(path), logger.Method(string(entry.Method)), logger.Attempt(entry.Retries+1), logger.Err(applyErr))

	p.cfg.Metrics.ObserveSyncRetry()
	if err := p.queue.IncrementRetryCount(ctx, entry.ParentPath, entry.Name); err != nil {
		return err
	}
	if p.bus != nil {
		p.bus.EmitSyncFileErr(path, applyErr)
	}
	return nil
}

// apply performs the actual network operation for entry: a bodied upload,
// a delete, or a rename (spec.md §4.5 step 4).
func (p *Processor) apply(ctx context.Context, entry queue.Entry) error {
	switch entry.Method {
	case queue.MethodDelete:
		return p.remote.Delete(ctx, entry.Path())
	case queue.MethodMove:
		return p.remote.Rename(ctx, entry.Path(), entry.DestPath)
	case queue.MethodPut, queue.MethodPost:
		return p.upload(ctx, entry)
	default:
		return rqerrors.New(rqerrors.ErrInvalidPath, entry.Path(), "unrecognized queue method")
	}
}

// upload streams the locally cached body to the remote, inverting the wire
// verb per spec.md §4.5 step 3: a queued PUT (a file the remote has never
// seen) becomes a wire POST; a queued POST (an update to a file the remote
// already has) becomes a wire PUT.
func (p *Processor) upload(ctx context.Context, entry queue.Entry) error {
	wireMethod := http.MethodPut
	if entry.Method == queue.MethodPut {
		wireMethod = http.MethodPost
	}

	path := entry.Path()
	handle, err := p.local.Open(ctx, path)
	if err != nil {
		return err
	}
	defer handle.Close()

	size := handle.Info().Size
	// tree.File.ReadAt has the same signature as io.ReaderAt, so the handle
	// can be wrapped directly without a custom adapter.
	body := io.NewSectionReader(handle, 0, size)

	return p.remote.Upload(ctx, wireMethod, path, body, size)
}

// refreshMarkers drops the stale creation/sync markers and writes a fresh
// sync marker, so the next File.Close sees no creation marker (the remote
// now has this file) and the next cacheFile sees an up-to-date syncedAt.
func (p *Processor) refreshMarkers(ctx context.Context, path string) error {
	if err := p.work.DeleteMarkers(ctx, path); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return err
	}
	return p.work.WriteSyncMarker(ctx, path, time.Now())
}

// purgeFailed purges every entry that has exhausted its retry budget and
// emits syncpurged with the affected paths (spec.md §4.5 step 7).
func (p *Processor) purgeFailed(ctx context.Context) {
	p.doPurge(ctx)
}

// PurgeNow runs the same poisoned-entry purge the background loop runs on
// its own schedule, immediately, and returns the purged entries. For
// operator-triggered purges (pkg/adminapi's POST /queue/purge).
func (p *Processor) PurgeNow(ctx context.Context) []queue.Entry {
	return p.doPurge(ctx)
}

func (p *Processor) doPurge(ctx context.Context) []queue.Entry {
	purged, err := p.queue.PurgeFailedRequests(ctx, p.cfg.MaxRetries)
	if err != nil {
		logger.Warn("failed to purge poisoned queue entries", logger.Err(err))
		return nil
	}
	if len(purged) == 0 {
		return nil
	}

	paths := make([]string, len(purged))
	for i, e := range purged {
		paths[i] = e.Path()
	}
	logger.Warn("purged poisoned queue entries", logger.QueueDepth(len(paths)))
	p.cfg.Metrics.ObservePurged(len(paths))
	if p.bus != nil {
		p.bus.EmitSyncPurged(paths)
	}
	return purged
}

// reportActiveCount publishes the current in-flight request count. It walks
// the active map rather than keeping a separate counter since Store/Delete
// already serialize through sync.Map; correctness matters more than the
// cost of an occasional range over a small map.
func (p *Processor) reportActiveCount() {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.SetActiveSyncs(p.ActiveCount())
}

// ActiveCount returns the number of requests currently being synced, for
// operator inspection (pkg/adminapi's GET /stats).
func (p *Processor) ActiveCount() int {
	n := 0
	p.active.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// abortPath cancels the in-flight request for path, if any (spec.md §4.5
// "Cancellation", itemupdated).
func (p *Processor) abortPath(path string) {
	if v, ok := p.active.LoadAndDelete(path); ok {
		v.(context.CancelFunc)()
	}
}

// abortPrefix cancels every in-flight request whose path lies under prefix
// (spec.md §4.5 "Cancellation", pathupdated).
func (p *Processor) abortPrefix(prefix string) {
	p.active.Range(func(key, value any) bool {
		path := key.(string)
		if path == prefix || hasPathPrefix(path, prefix) {
			p.active.Delete(path)
			value.(context.CancelFunc)()
		}
		return true
	})
}

func (p *Processor) abortAll() {
	p.active.Range(func(key, value any) bool {
		p.active.Delete(key)
		value.(context.CancelFunc)()
		return true
	})
}

// hasPathPrefix reports whether path lies strictly under dir, treating dir
// as a directory boundary rather than a raw string prefix ("/a/bc" is not
// under "/a/b").
func hasPathPrefix(path, dir string) bool {
	if dir == "/" {
		return path != "/"
	}
	return len(path) > len(dir) && path[:len(dir)] == dir && path[len(dir)] == '/'
}
