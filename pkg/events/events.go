// Package events is the callback bus connecting the Request Queue to the
// Sync Processor (itemupdated/pathupdated drive its cancellation) and both
// to share-facing observers (pkg/shareapi). It mirrors the registration style the teacher uses for share
// change notifications: callers subscribe with On*, and the owning
// component fires without holding its own lock.
package events

import "sync"

// Bus fans out queue and processor events to registered callbacks. The
// zero value is ready to use.
type Bus struct {
	mu sync.RWMutex

	onItemUpdated []func(path string)
	onPathUpdated []func(prefix string)

	onSyncFileStart []func(path string)
	onSyncFileEnd   []func(path string)
	onSyncFileErr   []func(path string, err error)
	onSyncAbort     []func(path string)
	onSyncConflict  []func(path string)
	onSyncErr       []func(err error)
	onSyncPurged    []func(paths []string)
}

// OnItemUpdated registers a callback fired after the queue durably commits
// an add or replace for a single path.
func (b *Bus) OnItemUpdated(cb func(path string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onItemUpdated = append(b.onItemUpdated, cb)
}

// OnPathUpdated registers a callback fired after the queue durably commits
// a mutation affecting an entire subtree (e.g. a directory rename).
func (b *Bus) OnPathUpdated(cb func(prefix string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPathUpdated = append(b.onPathUpdated, cb)
}

// OnSyncFileStart registers a callback fired when the processor begins
// uploading path.
func (b *Bus) OnSyncFileStart(cb func(path string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSyncFileStart = append(b.onSyncFileStart, cb)
}

// OnSyncFileEnd registers a callback fired when a path finishes syncing
// successfully.
func (b *Bus) OnSyncFileEnd(cb func(path string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSyncFileEnd = append(b.onSyncFileEnd, cb)
}

// OnSyncFileErr registers a callback fired when a single attempt to sync
// path fails (before any retry/purge decision).
func (b *Bus) OnSyncFileErr(cb func(path string, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSyncFileErr = append(b.onSyncFileErr, cb)
}

// OnSyncAbort registers a callback fired when an in-flight sync is
// cancelled by a superseding write to the same path.
func (b *Bus) OnSyncAbort(cb func(path string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSyncAbort = append(b.onSyncAbort, cb)
}

// OnSyncConflict registers a callback fired when the caching protocol or
// the safe-delete predicate detects a divergence it will not silently
// resolve.
func (b *Bus) OnSyncConflict(cb func(path string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSyncConflict = append(b.onSyncConflict, cb)
}

// OnSyncErr registers a callback fired on a transient processing error not
// tied to a single path (e.g. the remote being unreachable).
func (b *Bus) OnSyncErr(cb func(err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSyncErr = append(b.onSyncErr, cb)
}

// OnSyncPurged registers a callback fired when one or more entries exhaust
// their retry budget and are purged from the queue.
func (b *Bus) OnSyncPurged(cb func(paths []string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSyncPurged = append(b.onSyncPurged, cb)
}

// EmitItemUpdated fires all OnItemUpdated callbacks. Must not be called
// while holding the caller's own lock.
func (b *Bus) EmitItemUpdated(path string) {
	for _, cb := range b.snapshotItemUpdated() {
		cb(path)
	}
}

// EmitPathUpdated fires all OnPathUpdated callbacks.
func (b *Bus) EmitPathUpdated(prefix string) {
	for _, cb := range b.snapshotPathUpdated() {
		cb(prefix)
	}
}

// EmitSyncFileStart fires all OnSyncFileStart callbacks.
func (b *Bus) EmitSyncFileStart(path string) {
	b.mu.RLock()
	cbs := append([]func(string){}, b.onSyncFileStart...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		cb(path)
	}
}

// EmitSyncFileEnd fires all OnSyncFileEnd callbacks.
func (b *Bus) EmitSyncFileEnd(path string) {
	b.mu.RLock()
	cbs := append([]func(string){}, b.onSyncFileEnd...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		cb(path)
	}
}

// EmitSyncFileErr fires all OnSyncFileErr callbacks.
func (b *Bus) EmitSyncFileErr(path string, err error) {
	b.mu.RLock()
	cbs := append([]func(string, error){}, b.onSyncFileErr...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		cb(path, err)
	}
}

// EmitSyncAbort fires all OnSyncAbort callbacks.
func (b *Bus) EmitSyncAbort(path string) {
	b.mu.RLock()
	cbs := append([]func(string){}, b.onSyncAbort...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		cb(path)
	}
}

// EmitSyncConflict fires all OnSyncConflict callbacks.
func (b *Bus) EmitSyncConflict(path string) {
	b.mu.RLock()
	cbs := append([]func(string){}, b.onSyncConflict...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		cb(path)
	}
}

// EmitSyncErr fires all OnSyncErr callbacks.
func (b *Bus) EmitSyncErr(err error) {
	b.mu.RLock()
	cbs := append([]func(error){}, b.onSyncErr...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		cb(err)
	}
}

// EmitSyncPurged fires all OnSyncPurged callbacks.
func (b *Bus) EmitSyncPurged(paths []string) {
	b.mu.RLock()
	cbs := append([]func([]string){}, b.onSyncPurged...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		cb(paths)
	}
}

func (b *Bus) snapshotItemUpdated() []func(string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]func(string){}, b.onItemUpdated...)
}

func (b *Bus) snapshotPathUpdated() []func(string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]func(string){}, b.onPathUpdated...)
}
