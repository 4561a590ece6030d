// Package worktree implements pkg/tree.Tree as a metadata-only filesystem
// tree: per-path sync markers and creation markers (spec.md §6). It wraps
// pkg/tree/localtree and adds the sync-marker/creation-marker vocabulary
// pkg/rqtree and pkg/syncproc operate on.
package worktree

import (
	"context"
	"time"

	"github.com/rqmirror/rqmirror/internal/rqerrors"
	"github.com/rqmirror/rqmirror/pkg/pathutil"
	"github.com/rqmirror/rqmirror/pkg/tree"
	"github.com/rqmirror/rqmirror/pkg/tree/localtree"
)

// Tree is a work tree: a filesystem tree whose files are metadata markers
// rather than materialized content. Bodies are always empty; the sync
// marker's modification time is the canonical syncedAt value (spec.md §9
// Open Question: filesystem-timestamp encoding chosen over a JSON body).
type Tree struct {
	inner *localtree.Tree
}

// Config configures a work Tree.
type Config struct {
	// BasePath is the root directory holding sync and creation markers.
	BasePath string
}

// New creates a work Tree rooted at cfg.BasePath.
func New(cfg Config) (*Tree, error) {
	inner, err := localtree.New(localtree.Config{
		BasePath:  cfg.BasePath,
		CreateDir: true,
		DirMode:   0755,
		FileMode:  0644,
	})
	if err != nil {
		return nil, err
	}
	return &Tree{inner: inner}, nil
}

// Exists reports whether a sync marker exists at path.
func (t *Tree) Exists(ctx context.Context, path string) (bool, error) {
	return t.inner.Exists(ctx, path)
}

// Open returns a handle to the sync marker at path.
func (t *Tree) Open(ctx context.Context, path string) (tree.File, error) {
	return t.inner.Open(ctx, path)
}

// List returns the marker entries directly under dir.
func (t *Tree) List(ctx context.Context, dir string) ([]tree.FileInfo, error) {
	return t.inner.List(ctx, dir)
}

// CreateFile creates an empty sync marker at path.
func (t *Tree) CreateFile(ctx context.Context, path string) error {
	return t.inner.CreateFile(ctx, path)
}

// CreateDirectory creates an empty marker directory at path.
func (t *Tree) CreateDirectory(ctx context.Context, path string) error {
	return t.inner.CreateDirectory(ctx, path)
}

// Delete removes the sync marker at path. It returns rqerrors.ErrNotFound
// if there is no marker.
func (t *Tree) Delete(ctx context.Context, path string) error {
	return t.inner.Delete(ctx, path)
}

// DeleteDirectory removes an empty marker directory at path.
func (t *Tree) DeleteDirectory(ctx context.Context, path string) error {
	return t.inner.DeleteDirectory(ctx, path)
}

// Rename moves markers from oldPath to newPath.
func (t *Tree) Rename(ctx context.Context, oldPath, newPath string) error {
	return t.inner.Rename(ctx, oldPath, newPath)
}

// Disconnect releases the underlying filesystem handle.
func (t *Tree) Disconnect() error {
	return t.inner.Disconnect()
}

// WriteSyncMarker creates or refreshes the sync marker at path so that
// SyncedAt(path) == syncedAt. Callers invoke this after a successful
// upload (spec.md §4.5 step 5) or when first materializing a cached file.
func (t *Tree) WriteSyncMarker(ctx context.Context, path string, syncedAt time.Time) error {
	exists, err := t.inner.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		if err := t.inner.CreateFile(ctx, path); err != nil {
			return err
		}
	}

	f, err := t.inner.Open(ctx, path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SetLastModified(syncedAt); err != nil {
		return err
	}
	return nil
}

// SyncedAt returns the syncedAt value carried by path's sync marker. It
// returns rqerrors.ErrNotFound if no marker exists.
func (t *Tree) SyncedAt(ctx context.Context, path string) (time.Time, error) {
	f, err := t.inner.Open(ctx, path)
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()
	return f.Info().LastModified, nil
}

// DeleteMarkers removes both the sync marker and the creation marker at
// path, ignoring not-found errors for either.
func (t *Tree) DeleteMarkers(ctx context.Context, path string) error {
	if err := t.inner.Delete(ctx, path); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return err
	}
	marker := pathutil.CreateMarkerName(path)
	if err := t.inner.Delete(ctx, marker); err != nil && !rqerrors.Is(err, rqerrors.ErrNotFound) {
		return err
	}
	return nil
}

// CreateCreationMarker creates the zero-length creation marker for path,
// recording that the file was locally born and has never been acknowledged
// by the remote (spec.md §4.1).
func (t *Tree) CreateCreationMarker(ctx context.Context, path string) error {
	return t.inner.CreateFile(ctx, pathutil.CreateMarkerName(path))
}

// HasCreationMarker reports whether path has a creation marker.
func (t *Tree) HasCreationMarker(ctx context.Context, path string) (bool, error) {
	return t.inner.Exists(ctx, pathutil.CreateMarkerName(path))
}

// DeleteCreationMarker removes path's creation marker, e.g. once the remote
// has acknowledged the file's first PUT (spec.md §4.5 step 5).
func (t *Tree) DeleteCreationMarker(ctx context.Context, path string) error {
	err := t.inner.Delete(ctx, pathutil.CreateMarkerName(path))
	if rqerrors.Is(err, rqerrors.ErrNotFound) {
		return nil
	}
	return err
}

// RenameMarkers moves both the sync marker (if present) and the creation
// marker (if present) from oldPath to newPath, for use by the RQ Tree's
// rename handling (spec.md §4.4 step on MOVE).
func (t *Tree) RenameMarkers(ctx context.Context, oldPath, newPath string) error {
	if exists, err := t.inner.Exists(ctx, oldPath); err != nil {
		return err
	} else if exists {
		if err := t.inner.Rename(ctx, oldPath, newPath); err != nil {
			return err
		}
	}

	oldMarker, newMarker := pathutil.CreateMarkerName(oldPath), pathutil.CreateMarkerName(newPath)
	if exists, err := t.inner.Exists(ctx, oldMarker); err != nil {
		return err
	} else if exists {
		if err := t.inner.Rename(ctx, oldMarker, newMarker); err != nil {
			return err
		}
	}
	return nil
}

var _ tree.Tree = (*Tree)(nil)
