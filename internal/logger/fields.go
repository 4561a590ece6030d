package logger

import "log/slog"

// Field key constants, grouped by concern. Each has a matching constructor
// below that returns a ready-to-use slog.Attr.
const (
	// Correlation
	KeyTraceID = "trace_id"

	// Tree & path
	KeyShare      = "share"
	KeyPath       = "path"
	KeyParentPath = "parent_path"
	KeyOldPath    = "old_path"
	KeyNewPath    = "new_path"
	KeyTree       = "tree" // remote, local, work

	// Request queue
	KeyMethod     = "method" // PUT, POST, DELETE, MOVE
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyQueueDepth = "queue_depth"
	KeyEntryID    = "entry_id"

	// Outcome
	KeyStatus    = "status"
	KeyStatusMsg = "status_msg"
	KeyErr       = "error"
	KeyErrorCode = "error_code"

	// File I/O
	KeySize   = "size"
	KeyOffset = "offset"
	KeyMode   = "mode"

	// Remote transport
	KeyRemoteStatus = "remote_status"
	KeyBucket       = "bucket"
	KeyKey          = "object_key"

	// Timing
	KeyDurationMs = "duration_ms"
)

func TraceID(v string) slog.Attr      { return slog.String(KeyTraceID, v) }
func Share(v string) slog.Attr        { return slog.String(KeyShare, v) }
func Path(v string) slog.Attr         { return slog.String(KeyPath, v) }
func ParentPath(v string) slog.Attr   { return slog.String(KeyParentPath, v) }
func OldPath(v string) slog.Attr      { return slog.String(KeyOldPath, v) }
func NewPath(v string) slog.Attr      { return slog.String(KeyNewPath, v) }
func Tree(v string) slog.Attr         { return slog.String(KeyTree, v) }
func Method(v string) slog.Attr       { return slog.String(KeyMethod, v) }
func Attempt(v int) slog.Attr         { return slog.Int(KeyAttempt, v) }
func MaxRetries(v int) slog.Attr      { return slog.Int(KeyMaxRetries, v) }
func QueueDepth(v int) slog.Attr      { return slog.Int(KeyQueueDepth, v) }
func EntryID(v string) slog.Attr      { return slog.String(KeyEntryID, v) }
func Status(v string) slog.Attr       { return slog.String(KeyStatus, v) }
func StatusMsg(v string) slog.Attr    { return slog.String(KeyStatusMsg, v) }
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyErr, "")
	}
	return slog.String(KeyErr, err.Error())
}
func ErrorCode(v string) slog.Attr    { return slog.String(KeyErrorCode, v) }
func Size(v int64) slog.Attr          { return slog.Int64(KeySize, v) }
func Offset(v int64) slog.Attr        { return slog.Int64(KeyOffset, v) }
func Mode(v string) slog.Attr         { return slog.String(KeyMode, v) }
func RemoteStatus(v int) slog.Attr    { return slog.Int(KeyRemoteStatus, v) }
func Bucket(v string) slog.Attr       { return slog.String(KeyBucket, v) }
func Key(v string) slog.Attr          { return slog.String(KeyKey, v) }
func DurationMs(v float64) slog.Attr  { return slog.Float64(KeyDurationMs, v) }
