package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_ItemUpdatedFansOutToAllSubscribers(t *testing.T) {
	var b Bus

	var got1, got2 string
	b.OnItemUpdated(func(path string) { got1 = path })
	b.OnItemUpdated(func(path string) { got2 = path })

	b.EmitItemUpdated("/a/b.txt")

	assert.Equal(t, "/a/b.txt", got1)
	assert.Equal(t, "/a/b.txt", got2)
}

func TestBus_PathUpdatedDeliversPrefix(t *testing.T) {
	var b Bus

	var got string
	b.OnPathUpdated(func(prefix string) { got = prefix })

	b.EmitPathUpdated("/a")

	assert.Equal(t, "/a", got)
}

func TestBus_SyncFileErrDeliversPathAndError(t *testing.T) {
	var b Bus
	wantErr := errors.New("remote returned 500")

	var gotPath string
	var gotErr error
	b.OnSyncFileErr(func(path string, err error) {
		gotPath, gotErr = path, err
	})

	b.EmitSyncFileErr("/a/b.txt", wantErr)

	assert.Equal(t, "/a/b.txt", gotPath)
	assert.Equal(t, wantErr, gotErr)
}

func TestBus_SyncPurgedDeliversFullBatch(t *testing.T) {
	var b Bus

	var got []string
	b.OnSyncPurged(func(paths []string) { got = paths })

	b.EmitSyncPurged([]string{"/a.txt", "/b.txt"})

	assert.Equal(t, []string{"/a.txt", "/b.txt"}, got)
}

func TestBus_NoSubscribersDoesNotPanic(t *testing.T) {
	var b Bus
	assert.NotPanics(t, func() {
		b.EmitItemUpdated("/a.txt")
		b.EmitSyncErr(errors.New("boom"))
	})
}

func TestBus_ConcurrentEmitAndSubscribeDoNotRace(t *testing.T) {
	var b Bus
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			b.OnItemUpdated(func(string) {})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			b.EmitItemUpdated("/a.txt")
		}
	}()
	wg.Wait()
}
