package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rqmirror/rqmirror/internal/logger"
	"github.com/rqmirror/rqmirror/pkg/queue"
	"github.com/rqmirror/rqmirror/pkg/syncproc"
)

// NewRouter configures the chi router for the admin API: request tracking,
// panic recovery, a request timeout, and the queue/stats/purge routes.
func NewRouter(q *queue.Queue, proc *syncproc.Processor) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handler{q: q, proc: proc}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/stats", http.StatusTemporaryRedirect)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", h.listQueue)
		r.Post("/purge", h.purgeQueue)
		r.Get("/{parent}", h.listQueueForParent)
	})
	r.Get("/stats", h.stats)

	return r
}

func isHealthPath(path string) bool {
	return path == "/" || strings.HasPrefix(path, "/stats")
}

// requestLogger logs every request using the process logger: DEBUG for the
// high-frequency polling paths ("/" and "/stats"), INFO for every other
// request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}
		if isHealthPath(r.URL.Path) {
			logger.Debug("admin API request completed", logArgs...)
		} else {
			logger.Info("admin API request completed", logArgs...)
		}
	})
}
