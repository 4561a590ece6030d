package worktree

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	tr, err := New(Config{BasePath: t.TempDir()})
	require.NoError(t, err)
	return tr
}

func TestWriteSyncMarkerThenSyncedAt(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	syncedAt := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, tr.WriteSyncMarker(ctx, "/a.txt", syncedAt))

	got, err := tr.SyncedAt(ctx, "/a.txt")
	require.NoError(t, err)
	assert.WithinDuration(t, syncedAt, got, time.Second)
}

func TestWriteSyncMarkerRefreshesExisting(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	first := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	second := time.Now().Truncate(time.Second)

	require.NoError(t, tr.WriteSyncMarker(ctx, "/a.txt", first))
	require.NoError(t, tr.WriteSyncMarker(ctx, "/a.txt", second))

	got, err := tr.SyncedAt(ctx, "/a.txt")
	require.NoError(t, err)
	assert.WithinDuration(t, second, got, time.Second)
}

func TestCreationMarkerLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	ok, err := tr.HasCreationMarker(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.CreateCreationMarker(ctx, "/a.txt"))

	ok, err = tr.HasCreationMarker(ctx, "/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tr.DeleteCreationMarker(ctx, "/a.txt"))

	ok, err = tr.HasCreationMarker(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteCreationMarkerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)
	require.NoError(t, tr.DeleteCreationMarker(ctx, "/never-existed.txt"))
}

func TestDeleteMarkersRemovesBoth(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.WriteSyncMarker(ctx, "/a.txt", time.Now()))
	require.NoError(t, tr.CreateCreationMarker(ctx, "/a.txt"))

	require.NoError(t, tr.DeleteMarkers(ctx, "/a.txt"))

	exists, err := tr.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	hasMarker, err := tr.HasCreationMarker(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, hasMarker)
}

func TestRenameMarkersMovesBoth(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.WriteSyncMarker(ctx, "/a.txt", time.Now()))
	require.NoError(t, tr.CreateCreationMarker(ctx, "/a.txt"))

	require.NoError(t, tr.RenameMarkers(ctx, "/a.txt", "/b.txt"))

	exists, err := tr.Exists(ctx, "/a.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = tr.Exists(ctx, "/b.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	hasMarker, err := tr.HasCreationMarker(ctx, "/b.txt")
	require.NoError(t, err)
	assert.True(t, hasMarker)
}

func TestRenameMarkersToleratesMissingCreationMarker(t *testing.T) {
	ctx := context.Background()
	tr := newTestTree(t)

	require.NoError(t, tr.WriteSyncMarker(ctx, "/a.txt", time.Now()))
	require.NoError(t, tr.RenameMarkers(ctx, "/a.txt", "/b.txt"))

	exists, err := tr.Exists(ctx, "/b.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}
