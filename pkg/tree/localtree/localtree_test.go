package localtree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rqmirror/rqmirror/internal/rqerrors"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr, err := New(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	return tr
}

func TestCreateFileThenExists(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.CreateFile(ctx, "/a.txt"))

	ok, err := tr.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Exists(ctx, "/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateFileRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.CreateFile(ctx, "/a.txt"))
	err := tr.CreateFile(ctx, "/a.txt")
	require.Error(t, err)
	assert.True(t, rqerrors.Is(err, rqerrors.ErrAlreadyExists))
}

func TestWriteAtThenReadAt(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	require.NoError(t, tr.CreateFile(ctx, "/a.txt"))

	f, err := tr.Open(ctx, "/a.txt")
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("abcd"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Flush())

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "abcd", string(buf))
	require.NoError(t, f.Close())
}

func TestSetLengthTruncates(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	require.NoError(t, tr.CreateFile(ctx, "/a.txt"))

	f, err := tr.Open(ctx, "/a.txt")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("abcdefgh"), 0)
	require.NoError(t, err)
	require.NoError(t, f.SetLength(4))
	require.NoError(t, f.Close())

	assert.EqualValues(t, 4, f.Info().Size)
}

func TestDeleteDirectoryRejectsNonEmpty(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.CreateDirectory(ctx, "/dir"))
	require.NoError(t, tr.CreateFile(ctx, "/dir/a.txt"))

	err := tr.DeleteDirectory(ctx, "/dir")
	require.Error(t, err)
	assert.True(t, rqerrors.Is(err, rqerrors.ErrNotEmpty))
}

func TestDeleteRejectsDirectory(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.CreateDirectory(ctx, "/dir"))
	err := tr.Delete(ctx, "/dir")
	require.Error(t, err)
	assert.True(t, rqerrors.Is(err, rqerrors.ErrIsDirectory))
}

func TestRenameMovesFile(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.CreateFile(ctx, "/a.txt"))
	require.NoError(t, tr.Rename(ctx, "/a.txt", "/sub/b.txt"))

	ok, err := tr.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tr.Exists(ctx, "/sub/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListReturnsSortedEntries(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.CreateFile(ctx, "/c.txt"))
	require.NoError(t, tr.CreateFile(ctx, "/a.txt"))
	require.NoError(t, tr.CreateDirectory(ctx, "/b"))

	infos, err := tr.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, "/a.txt", infos[0].Path)
	assert.Equal(t, "/b", infos[1].Path)
	assert.True(t, infos[1].IsDir)
	assert.Equal(t, "/c.txt", infos[2].Path)
}
