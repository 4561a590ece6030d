package shareapi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rqmirror/rqmirror/pkg/events"
	"github.com/rqmirror/rqmirror/pkg/tree"
)

// fakeTree is the minimal tree.Tree double needed to exercise Share's
// wrapping and forwarding behavior.
type fakeTree struct {
	disconnectCalls int
	disconnectErr   error
}

func (f *fakeTree) Exists(ctx context.Context, path string) (bool, error) { return true, nil }
func (f *fakeTree) Open(ctx context.Context, path string) (tree.File, error) {
	return nil, nil
}
func (f *fakeTree) List(ctx context.Context, dir string) ([]tree.FileInfo, error) {
	return nil, nil
}
func (f *fakeTree) CreateFile(ctx context.Context, path string) error      { return nil }
func (f *fakeTree) CreateDirectory(ctx context.Context, path string) error { return nil }
func (f *fakeTree) Delete(ctx context.Context, path string) error         { return nil }
func (f *fakeTree) DeleteDirectory(ctx context.Context, path string) error { return nil }
func (f *fakeTree) Rename(ctx context.Context, oldPath, newPath string) error {
	return nil
}
func (f *fakeTree) Disconnect() error {
	f.disconnectCalls++
	return f.disconnectErr
}

func TestShare_GetShareReturnsConfiguredName(t *testing.T) {
	s := New("docs", &fakeTree{}, nil)
	assert.Equal(t, "docs", s.GetShare())
}

func TestShare_DisconnectDelegatesToTree(t *testing.T) {
	ft := &fakeTree{disconnectErr: errors.New("boom")}
	s := New("docs", ft, nil)

	err := s.Disconnect()
	require.Error(t, err)
	assert.Equal(t, 1, ft.disconnectCalls)
}

func TestShare_ForwardsTreeOperationsByEmbedding(t *testing.T) {
	ft := &fakeTree{}
	s := New("docs", ft, nil)

	ok, err := s.Exists(context.Background(), "/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

type recordingListener struct {
	notifications []Notification
}

func (r *recordingListener) OnShareEvent(n Notification) {
	r.notifications = append(r.notifications, n)
}

func TestShare_TranslatesBusEventsToListener(t *testing.T) {
	bus := &events.Bus{}
	rl := &recordingListener{}
	New("docs", &fakeTree{}, bus, rl)

	bus.EmitSyncFileStart("/a.txt")
	bus.EmitSyncFileEnd("/a.txt")
	bus.EmitSyncFileErr("/b.txt", errors.New("conflict"))
	bus.EmitSyncConflict("/c.txt")
	bus.EmitSyncErr(errors.New("fatal"))
	bus.EmitSyncPurged([]string{"/d.txt", "/e.txt"})

	require.Len(t, rl.notifications, 6)
	assert.Equal(t, EventSyncFileStart, rl.notifications[0].Event)
	assert.Equal(t, "/a.txt", rl.notifications[0].File)
	assert.Equal(t, EventSyncFileEnd, rl.notifications[1].Event)
	assert.Equal(t, EventSyncFileErr, rl.notifications[2].Event)
	assert.Error(t, rl.notifications[2].Err)
	assert.Equal(t, EventSyncConflict, rl.notifications[3].Event)
	assert.Equal(t, EventSyncErr, rl.notifications[4].Event)
	assert.Equal(t, EventSyncPurged, rl.notifications[5].Event)
	assert.Equal(t, []string{"/d.txt", "/e.txt"}, rl.notifications[5].Files)
}

func TestShare_NilBusSkipsRegistration(t *testing.T) {
	assert.NotPanics(t, func() {
		New("docs", &fakeTree{}, nil, &recordingListener{})
	})
}
