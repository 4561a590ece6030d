// Package queue implements the durable request queue of spec.md §4.3: a
// single-writer, crash-safe store of pending mutations keyed by
// (parentPath, name), atop github.com/dgraph-io/badger/v4 — grounded in the
// teacher's pkg/metadata/badger package (transaction-per-mutation,
// prefix-iterator scans, StoreError-shaped results).
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/rqmirror/rqmirror/internal/logger"
	"github.com/rqmirror/rqmirror/internal/rqerrors"
	"github.com/rqmirror/rqmirror/pkg/events"
	"github.com/rqmirror/rqmirror/pkg/metrics"
)

// Queue is the durable request queue.
type Queue struct {
	mu      sync.RWMutex
	db      *badger.DB
	bus     *events.Bus
	path    string
	metrics *metrics.Metrics
}

// Config configures a Queue.
type Config struct {
	// Path is the Badger data directory.
	Path string
}

// New opens (creating if absent) the Badger store at cfg.Path. bus may be
// nil if the caller does not need item/path update notifications.
func New(cfg Config, bus *events.Bus) (*Queue, error) {
	if cfg.Path == "" {
		return nil, rqerrors.New(rqerrors.ErrInvalidPath, "", "queue path is required")
	}

	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, rqerrors.Wrap(rqerrors.ErrIOError, cfg.Path, "open queue store", err)
	}

	return &Queue{db: db, bus: bus, path: cfg.Path}, nil
}

// SetMetrics attaches m so subsequent admits and purges are observed. Safe
// to call at any time; nil detaches instrumentation.
func (q *Queue) SetMetrics(m *metrics.Metrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// Close releases the underlying Badger store.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.db.Close(); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, q.path, "close queue store", err)
	}
	return nil
}

func (q *Queue) emitItemUpdated(path string) {
	if q.bus != nil {
		q.bus.EmitItemUpdated(path)
	}
}

func (q *Queue) emitPathUpdated(prefix string) {
	if q.bus != nil {
		q.bus.EmitPathUpdated(prefix)
	}
}

// QueueRequest inserts entry, coalescing with any existing entry for the
// same (ParentPath, Name) per the rules of spec.md §4.3. Coalescing and the
// write are performed inside a single Badger transaction.
func (q *Queue) QueueRequest(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := entryKey(entry.ParentPath, entry.Name)
	removed := false

	err := q.db.Update(func(txn *badger.Txn) error {
		existing, err := getEntry(txn, key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}

		if err == badger.ErrKeyNotFound {
			return putEntry(txn, key, entry)
		}

		switch {
		case existing.Method == MethodPut && entry.Method == MethodPost:
			// keep PUT
			return nil
		case existing.Method == MethodPost && entry.Method == MethodPost:
			return putEntry(txn, key, entry)
		case existing.Method == MethodPut && entry.Method == MethodDelete:
			removed = true
			return txn.Delete(key)
		case existing.Method == MethodPost && entry.Method == MethodDelete:
			entry.Method = MethodDelete
			return putEntry(txn, key, entry)
		case existing.Method == MethodDelete && entry.Method == MethodPut:
			return putEntry(txn, key, entry)
		default:
			return putEntry(txn, key, entry)
		}
	})
	if err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, entry.Path(), "queue request", err)
	}

	if removed {
		logger.Debug("queue entry coalesced away", "path", entry.Path(), "reason", "put-then-delete")
	}
	q.metrics.ObserveQueued(string(entry.Method))
	q.emitItemUpdated(entry.Path())
	return nil
}

// GetRequests returns the name→method mapping for parentPath, for directory
// listing (spec.md §4.4 "list").
func (q *Queue) GetRequests(ctx context.Context, parentPath string) (map[string]Method, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	result := map[string]Method{}
	prefix := prefixKey(parentPath)

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				result[e.Name] = e.Method
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, rqerrors.Wrap(rqerrors.ErrIOError, parentPath, "get requests", err)
	}
	return result, nil
}

// Exists reports whether a queue entry exists for (parentPath, name).
func (q *Queue) Exists(ctx context.Context, parentPath, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	key := entryKey(parentPath, name)
	found := false
	err := q.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, rqerrors.Wrap(rqerrors.ErrIOError, parentPath+"/"+name, "exists", err)
	}
	return found, nil
}

// GetProcessRequest returns the oldest entry eligible for processing: its
// age exceeds expiration, its retry count is below maxRetries, and its
// retry-delay backoff has elapsed. Returns nil, nil if nothing is eligible.
func (q *Queue) GetProcessRequest(ctx context.Context, expiration time.Duration, maxRetries int, retryDelay time.Duration) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	now := time.Now()
	var best *Entry

	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				if now.Before(e.CreatedAt.Add(expiration)) {
					return nil
				}
				if e.Retries >= maxRetries {
					return nil
				}
				if !e.LastAttemptAt.IsZero() && now.Before(e.LastAttemptAt.Add(retryDelay)) {
					return nil
				}
				if best == nil || e.CreatedAt.Before(best.CreatedAt) {
					entryCopy := e
					best = &entryCopy
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, rqerrors.Wrap(rqerrors.ErrIOError, "", "get process request", err)
	}
	return best, nil
}

// CompleteRequest removes the entry for (parentPath, name) on success.
func (q *Queue) CompleteRequest(ctx context.Context, parentPath, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := entryKey(parentPath, name)
	err := q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, parentPath+"/"+name, "complete request", err)
	}

	q.emitItemUpdated(Entry{ParentPath: parentPath, Name: name}.Path())
	return nil
}

// IncrementRetryCount increments Retries and sets LastAttemptAt = now.
func (q *Queue) IncrementRetryCount(ctx context.Context, parentPath, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	key := entryKey(parentPath, name)
	err := q.db.Update(func(txn *badger.Txn) error {
		e, err := getEntry(txn, key)
		if err != nil {
			return err
		}
		e.Retries++
		e.LastAttemptAt = time.Now()
		return putEntry(txn, key, e)
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return rqerrors.NewNotFound(parentPath + "/" + name)
		}
		return rqerrors.Wrap(rqerrors.ErrIOError, parentPath+"/"+name, "increment retry count", err)
	}
	return nil
}

// ListAll returns every pending entry in the queue, for operator inspection
// (pkg/adminapi's GET /queue).
func (q *Queue) ListAll(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	var entries []Entry
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, rqerrors.Wrap(rqerrors.ErrIOError, "", "list all requests", err)
	}
	return entries, nil
}

// PurgeFailedRequests removes and returns every entry with Retries >=
// maxRetries.
func (q *Queue) PurgeFailedRequests(ctx context.Context, maxRetries int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var purged []Entry
	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueKeyPrefix)
		it := txn.NewIterator(opts)

		var keysToDelete [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				if e.Retries >= maxRetries {
					purged = append(purged, e)
					keysToDelete = append(keysToDelete, key)
				}
				return nil
			}); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		for _, key := range keysToDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, rqerrors.Wrap(rqerrors.ErrIOError, "", "purge failed requests", err)
	}

	if len(purged) > 0 {
		q.emitPathUpdated("/")
	}
	return purged, nil
}

// UpdatePath rewrites ParentPath on every entry whose ParentPath is
// oldPrefix or lies under it, to newPrefix, for a renamed directory
// (spec.md §4.4 "rename", directory case).
func (q *Queue) UpdatePath(ctx context.Context, oldPrefix, newPrefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueKeyPrefix)
		it := txn.NewIterator(opts)

		type rewrite struct {
			oldKey []byte
			entry  Entry
		}
		var rewrites []rewrite

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				if e.ParentPath == oldPrefix || strings.HasPrefix(e.ParentPath, oldPrefix+"/") {
					e.ParentPath = newPrefix + strings.TrimPrefix(e.ParentPath, oldPrefix)
					rewrites = append(rewrites, rewrite{oldKey: key, entry: e})
				}
				return nil
			}); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		for _, r := range rewrites {
			if err := txn.Delete(r.oldKey); err != nil {
				return err
			}
			if err := putEntry(txn, entryKey(r.entry.ParentPath, r.entry.Name), r.entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, oldPrefix, "update path", err)
	}

	q.emitPathUpdated(oldPrefix)
	q.emitPathUpdated(newPrefix)
	return nil
}

// RemovePath drops every queue entry under prefix, for a deleted directory
// (spec.md §4.4 "deleteDirectory").
func (q *Queue) RemovePath(ctx context.Context, prefix string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueKeyPrefix)
		it := txn.NewIterator(opts)

		var keysToDelete [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if err := item.Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				if e.ParentPath == prefix || strings.HasPrefix(e.ParentPath, prefix+"/") {
					keysToDelete = append(keysToDelete, key)
				}
				return nil
			}); err != nil {
				it.Close()
				return err
			}
		}
		it.Close()

		for _, key := range keysToDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, prefix, "remove path", err)
	}

	q.emitPathUpdated(prefix)
	return nil
}

func getEntry(txn *badger.Txn, key []byte) (Entry, error) {
	item, err := txn.Get(key)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	err = item.Value(func(val []byte) error {
		decoded, err := decodeEntry(val)
		if err != nil {
			return err
		}
		e = decoded
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}

func putEntry(txn *badger.Txn, key []byte, e Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	return txn.Set(key, data)
}
