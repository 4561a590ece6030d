package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rqmirror/rqmirror/internal/logger"
	"github.com/rqmirror/rqmirror/pkg/queue"
	"github.com/rqmirror/rqmirror/pkg/syncproc"
)

var errNoProcessor = errors.New("admin API: no sync processor configured")

// handler bundles the queue and processor a request handler reads from.
type handler struct {
	q    *queue.Queue
	proc *syncproc.Processor
}

// entryView is the JSON shape of a queue.Entry, flattening Entry.Path for
// convenience and omitting fields with no meaning outside the queue's own
// bookkeeping (e.g. the local/remote prefixes).
type entryView struct {
	Path          string    `json:"path"`
	ParentPath    string    `json:"parent_path"`
	Name          string    `json:"name"`
	Method        string    `json:"method"`
	DestPath      string    `json:"dest_path,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Retries       int       `json:"retries"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
}

func toEntryView(e queue.Entry) entryView {
	return entryView{
		Path:          e.Path(),
		ParentPath:    e.ParentPath,
		Name:          e.Name,
		Method:        string(e.Method),
		DestPath:      e.DestPath,
		CreatedAt:     e.CreatedAt,
		Retries:       e.Retries,
		LastAttemptAt: e.LastAttemptAt,
	}
}

// listQueue handles GET /queue: every pending entry.
func (h *handler) listQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.q.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, toEntryView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

// listQueueForParent handles GET /queue/{parent}: entries under one parent
// directory, by name and method only (spec.md §4.4 "list" reconciliation
// shape, reused here for operator inspection).
func (h *handler) listQueueForParent(w http.ResponseWriter, r *http.Request) {
	parent := "/" + chi.URLParam(r, "parent")
	requests, err := h.q.GetRequests(r.Context(), parent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make(map[string]string, len(requests))
	for name, method := range requests {
		views[name] = string(method)
	}
	writeJSON(w, http.StatusOK, views)
}

// purgeQueue handles POST /queue/purge: forces the same poisoned-entry
// purge the sync processor runs on its own schedule (spec.md §4.5 "poison
// handling"), for an operator who doesn't want to wait for it.
func (h *handler) purgeQueue(w http.ResponseWriter, r *http.Request) {
	if h.proc == nil {
		writeError(w, http.StatusServiceUnavailable, errNoProcessor)
		return
	}
	purged := h.proc.PurgeNow(r.Context())
	logger.Info("admin API triggered purge", "count", len(purged))

	views := make([]entryView, 0, len(purged))
	for _, e := range purged {
		views = append(views, toEntryView(e))
	}
	writeJSON(w, http.StatusOK, views)
}

// statsResponse is the JSON shape of GET /stats.
type statsResponse struct {
	PendingCount int `json:"pending_count"`
	ActiveCount  int `json:"active_count"`
}

// stats handles GET /stats: a coarse snapshot of queue depth and in-flight
// sync activity.
func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	entries, err := h.q.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := statsResponse{PendingCount: len(entries)}
	if h.proc != nil {
		resp.ActiveCount = h.proc.ActiveCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("admin API failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
