// Package localtree implements pkg/tree.Tree as a thin wrapper over the
// host filesystem. It is the local cache of materialized files (spec.md
// §2 component 2).
package localtree

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rqmirror/rqmirror/internal/rqerrors"
	"github.com/rqmirror/rqmirror/pkg/tree"
)

// Tree wraps a directory of the host filesystem as a tree.Tree.
type Tree struct {
	mu       sync.RWMutex
	basePath string
	closed   bool
}

// Config configures a local Tree.
type Config struct {
	// BasePath is the root directory of the local cache.
	BasePath string

	// CreateDir creates BasePath if it doesn't exist. Default: true.
	CreateDir bool

	// DirMode is the permission mode New uses when CreateDir creates
	// BasePath. Default: 0755. Directories created through the tree always
	// get 0755.
	DirMode os.FileMode

	// FileMode is not applied: files created through the tree always get
	// 0644.
	FileMode os.FileMode
}

// DefaultConfig returns the default configuration for basePath.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:  basePath,
		CreateDir: true,
		DirMode:   0755,
		FileMode:  0644,
	}
}

// New creates a local Tree rooted at cfg.BasePath.
func New(cfg Config) (*Tree, error) {
	if cfg.BasePath == "" {
		return nil, rqerrors.New(rqerrors.ErrInvalidPath, "", "base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
			return nil, rqerrors.Wrap(rqerrors.ErrIOError, cfg.BasePath, "create base directory", err)
		}
	}

	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, rqerrors.Wrap(rqerrors.ErrIOError, cfg.BasePath, "stat base directory", err)
	}
	if !info.IsDir() {
		return nil, rqerrors.New(rqerrors.ErrNotDirectory, cfg.BasePath, "base path is not a directory")
	}

	return &Tree{basePath: cfg.BasePath}, nil
}

// BasePath returns the tree's filesystem root.
func (t *Tree) BasePath() string {
	return t.basePath
}

func (t *Tree) fsPath(p string) string {
	return filepath.Join(t.basePath, filepath.FromSlash(p))
}

func mapFSErr(err error, code rqerrors.ErrorCode, path, msg string) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return rqerrors.Wrap(rqerrors.ErrNotFound, path, msg, err)
	}
	if os.IsExist(err) {
		return rqerrors.Wrap(rqerrors.ErrAlreadyExists, path, msg, err)
	}
	return rqerrors.Wrap(code, path, msg, err)
}

// Exists reports whether path exists.
func (t *Tree) Exists(ctx context.Context, path string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, err := os.Stat(t.fsPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, rqerrors.Wrap(rqerrors.ErrIOError, path, "stat", err)
}

// Open returns a handle to path.
func (t *Tree) Open(ctx context.Context, path string) (tree.File, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	fsPath := t.fsPath(path)
	info, err := os.Stat(fsPath)
	if err != nil {
		return nil, mapFSErr(err, rqerrors.ErrIOError, path, "open")
	}

	f, err := os.OpenFile(fsPath, os.O_RDWR, 0)
	if err != nil {
		return nil, mapFSErr(err, rqerrors.ErrIOError, path, "open")
	}

	return &localFile{path: path, fsPath: fsPath, f: f, isDir: info.IsDir()}, nil
}

// List returns the entries directly under dir.
func (t *Tree) List(ctx context.Context, dir string) ([]tree.FileInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries, err := os.ReadDir(t.fsPath(dir))
	if err != nil {
		return nil, mapFSErr(err, rqerrors.ErrIOError, dir, "list")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	infos := make([]tree.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, toFileInfo(filepath.ToSlash(filepath.Join(dir, e.Name())), fi))
	}
	return infos, nil
}

// CreateFile creates an empty regular file at path.
func (t *Tree) CreateFile(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fsPath := t.fsPath(path)
	if err := os.MkdirAll(filepath.Dir(fsPath), 0755); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, path, "create parent directories", err)
	}

	f, err := os.OpenFile(fsPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return mapFSErr(err, rqerrors.ErrIOError, path, "create file")
	}
	return f.Close()
}

// CreateDirectory creates an empty directory at path.
func (t *Tree) CreateDirectory(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fsPath := t.fsPath(path)
	if err := os.MkdirAll(filepath.Dir(fsPath), 0755); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, path, "create parent directories", err)
	}
	if err := os.Mkdir(fsPath, 0755); err != nil {
		return mapFSErr(err, rqerrors.ErrIOError, path, "create directory")
	}
	return nil
}

// Delete removes a regular file at path.
func (t *Tree) Delete(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fsPath := t.fsPath(path)
	info, err := os.Stat(fsPath)
	if err != nil {
		return mapFSErr(err, rqerrors.ErrIOError, path, "delete")
	}
	if info.IsDir() {
		return rqerrors.New(rqerrors.ErrIsDirectory, path, "delete: is a directory")
	}
	if err := os.Remove(fsPath); err != nil {
		return mapFSErr(err, rqerrors.ErrIOError, path, "delete")
	}
	return nil
}

// DeleteDirectory removes an empty directory at path.
func (t *Tree) DeleteDirectory(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fsPath := t.fsPath(path)
	info, err := os.Stat(fsPath)
	if err != nil {
		return mapFSErr(err, rqerrors.ErrIOError, path, "delete directory")
	}
	if !info.IsDir() {
		return rqerrors.New(rqerrors.ErrNotDirectory, path, "delete directory: not a directory")
	}

	entries, err := os.ReadDir(fsPath)
	if err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, path, "read directory", err)
	}
	if len(entries) > 0 {
		return rqerrors.New(rqerrors.ErrNotEmpty, path, "directory not empty")
	}

	if err := os.Remove(fsPath); err != nil {
		return mapFSErr(err, rqerrors.ErrIOError, path, "delete directory")
	}
	return nil
}

// Rename moves oldPath to newPath within this tree.
func (t *Tree) Rename(ctx context.Context, oldPath, newPath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	oldFS, newFS := t.fsPath(oldPath), t.fsPath(newPath)
	if _, err := os.Stat(oldFS); err != nil {
		return mapFSErr(err, rqerrors.ErrIOError, oldPath, "rename")
	}
	if err := os.MkdirAll(filepath.Dir(newFS), 0755); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, newPath, "create parent directories", err)
	}
	if err := os.Rename(oldFS, newFS); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, oldPath, "rename", err)
	}
	return nil
}

// Disconnect marks the tree as closed.
func (t *Tree) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func toFileInfo(p string, fi fs.FileInfo) tree.FileInfo {
	return tree.FileInfo{
		Path:         p,
		IsDir:        fi.IsDir(),
		IsReadOnly:   fi.Mode().Perm()&0200 == 0,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		LastChanged:  fi.ModTime(),
		Created:      fi.ModTime(),
		LastAccessed: fi.ModTime(),
	}
}

// localFile implements tree.File over an *os.File.
type localFile struct {
	mu     sync.Mutex
	path   string
	fsPath string
	f      *os.File
	isDir  bool
}

func (lf *localFile) Info() tree.FileInfo {
	fi, err := os.Stat(lf.fsPath)
	if err != nil {
		return tree.FileInfo{Path: lf.path, IsDir: lf.isDir}
	}
	return toFileInfo(lf.path, fi)
}

func (lf *localFile) ReadAt(buf []byte, off int64) (int, error) {
	n, err := lf.f.ReadAt(buf, off)
	if err != nil && err.Error() != "EOF" {
		return n, rqerrors.Wrap(rqerrors.ErrIOError, lf.path, "read", err)
	}
	return n, err
}

func (lf *localFile) WriteAt(buf []byte, off int64) (int, error) {
	n, err := lf.f.WriteAt(buf, off)
	if err != nil {
		return n, rqerrors.Wrap(rqerrors.ErrIOError, lf.path, "write", err)
	}
	return n, nil
}

func (lf *localFile) SetLength(n int64) error {
	if err := lf.f.Truncate(n); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, lf.path, "set length", err)
	}
	return nil
}

func (lf *localFile) Delete() error {
	if err := os.Remove(lf.fsPath); err != nil {
		return mapFSErr(err, rqerrors.ErrIOError, lf.path, "delete")
	}
	return nil
}

func (lf *localFile) Flush() error {
	if err := lf.f.Sync(); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, lf.path, "flush", err)
	}
	return nil
}

func (lf *localFile) Close() error {
	if err := lf.f.Close(); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, lf.path, "close", err)
	}
	return nil
}

func (lf *localFile) SetLastModified(t time.Time) error {
	if err := os.Chtimes(lf.fsPath, t, t); err != nil {
		return rqerrors.Wrap(rqerrors.ErrIOError, lf.path, "set last modified", err)
	}
	return nil
}

var _ tree.Tree = (*Tree)(nil)
var _ tree.File = (*localFile)(nil)
