// Package tree defines the capability every storage tree in the RQ backend
// implements: remote, local, and work. The three concrete trees
// (pkg/tree/localtree, pkg/tree/worktree, pkg/tree/remotetree) all satisfy
// Tree; pkg/rqtree composes them behind the same interface so a protocol
// front-end never knows which tier it is talking to.
package tree

import (
	"context"
	"time"
)

// FileInfo describes a file or directory entry. Timestamps mirror the
// abstract File attributes of spec.md §3; LastModified is the authoritative
// local modification time for cache freshness comparisons.
type FileInfo struct {
	Path           string
	IsDir          bool
	IsReadOnly     bool
	Size           int64
	AllocationSize int64
	LastModified   time.Time
	LastChanged    time.Time
	Created        time.Time
	LastAccessed   time.Time
}

// Tree is the capability shared by every storage tree: existence checks,
// directory listing, file and directory creation/deletion, rename, and
// resource release.
type Tree interface {
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) (File, error)
	List(ctx context.Context, dir string) ([]FileInfo, error)
	CreateFile(ctx context.Context, path string) error
	CreateDirectory(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	DeleteDirectory(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Disconnect() error
}

// File is a handle returned by Tree.Open. Offsets and lengths are in bytes.
type File interface {
	Info() FileInfo
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	SetLength(n int64) error
	Delete() error
	Flush() error
	Close() error
	// SetLastModified sets the file's modification time. Trees that cannot
	// represent this (e.g. a remote tree speaking only HTTP) return
	// rqerrors.ErrNotSupported.
	SetLastModified(t time.Time) error
}
