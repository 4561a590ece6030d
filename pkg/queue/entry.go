package queue

import "time"

// Method is the mutation a queue entry represents. The queue stores the
// verb the caller's *first* operation used; the sync processor inverts it
// for the wire (spec.md §4.5 step 3, §9).
type Method string

const (
	MethodPut    Method = "PUT"
	MethodPost   Method = "POST"
	MethodDelete Method = "DELETE"
	MethodMove   Method = "MOVE"
)

// Entry is a pending mutation keyed by (ParentPath, Name).
type Entry struct {
	ParentPath string
	Name       string
	Method     Method
	// DestPath is set only for MethodMove.
	DestPath string

	RemotePrefix string
	LocalPrefix  string

	CreatedAt     time.Time
	Retries       int
	LastAttemptAt time.Time
}

// Path reconstructs the full path this entry applies to.
func (e Entry) Path() string {
	if e.ParentPath == "/" {
		return "/" + e.Name
	}
	return e.ParentPath + "/" + e.Name
}
