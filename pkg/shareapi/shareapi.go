// Package shareapi is the narrow surface a protocol front-end is given: a
// named share backed by an RQ Tree, plus the sync lifecycle notifications
// spec.md §6 names. It deliberately exposes nothing about queues, trees, or
// the sync processor beyond pkg/tree.Tree/pkg/tree.File and the share event
// names — grounded on the teacher's pkg/adapter/smb.Adapter.SetRuntime,
// narrowed from that adapter's full runtime/session/Kerberos surface down to
// just "inject shared state, expose a small interface."
package shareapi

import (
	"github.com/rqmirror/rqmirror/pkg/events"
	"github.com/rqmirror/rqmirror/pkg/tree"
)

// Event names a share-facing sync lifecycle notification (spec.md §6).
type Event string

const (
	EventSyncFileStart Event = "syncfilestart"
	EventSyncFileEnd   Event = "syncfileend"
	EventSyncFileErr   Event = "syncfileerr"
	EventSyncConflict  Event = "syncconflict"
	EventSyncErr       Event = "syncerr"
	EventSyncPurged    Event = "syncpurged"
)

// Notification is a single translated event delivered to a Listener.
// File and Files are set only for the events that carry a path; Err is set
// only for syncfileerr and syncerr.
type Notification struct {
	Event Event
	File  string
	Files []string
	Err   error
}

// Listener receives translated share events. A protocol front-end
// implements this to surface sync state to its own clients (e.g. an SMB
// change notify, a status line, a log).
type Listener interface {
	OnShareEvent(Notification)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(Notification)

// OnShareEvent implements Listener.
func (f ListenerFunc) OnShareEvent(n Notification) { f(n) }

// Share is the handle a protocol front-end holds for one exported tree: the
// full pkg/tree.Tree/pkg/tree.File surface, plus GetShare and Disconnect
// (spec.md §6).
type Share struct {
	tree.Tree
	name string
}

// New wraps t as a share named name. If bus is non-nil, every registered
// listener is notified of translated sync lifecycle events as they occur;
// bus may be nil for a share with no front-end listening.
func New(name string, t tree.Tree, bus *events.Bus, listeners ...Listener) *Share {
	s := &Share{Tree: t, name: name}
	if bus == nil || len(listeners) == 0 {
		return s
	}

	notify := func(n Notification) {
		for _, l := range listeners {
			l.OnShareEvent(n)
		}
	}

	bus.OnSyncFileStart(func(path string) {
		notify(Notification{Event: EventSyncFileStart, File: path})
	})
	bus.OnSyncFileEnd(func(path string) {
		notify(Notification{Event: EventSyncFileEnd, File: path})
	})
	bus.OnSyncFileErr(func(path string, err error) {
		notify(Notification{Event: EventSyncFileErr, File: path, Err: err})
	})
	bus.OnSyncConflict(func(path string) {
		notify(Notification{Event: EventSyncConflict, File: path})
	})
	bus.OnSyncErr(func(err error) {
		notify(Notification{Event: EventSyncErr, Err: err})
	})
	bus.OnSyncPurged(func(paths []string) {
		notify(Notification{Event: EventSyncPurged, Files: paths})
	})

	return s
}

// GetShare returns the share's configured name.
func (s *Share) GetShare() string {
	return s.name
}

// Disconnect releases the underlying tree's resources.
func (s *Share) Disconnect() error {
	return s.Tree.Disconnect()
}

var _ tree.Tree = (*Share)(nil)
