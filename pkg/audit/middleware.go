package audit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/larkspur/copdesk/pkg/trace"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware attaches a trace ID to every request and logs an
// api.access entry asynchronously. Mutation-level entries are written by the
// storage layer inside their transactions; this layer only records who
// touched which endpoint.
func HTTPMiddleware(logger *SQLiteLogger, actorFrom func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := trace.WithTraceID(r.Context(), r.Header.Get("X-Trace-Id"))
			r = r.WithContext(ctx)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			actor := "anonymous"
			if actorFrom != nil {
				if a := actorFrom(r); a != "" {
					actor = a
				}
			}

			after, _ := json.Marshal(map[string]any{
				"status":      rec.status,
				"duration_ms": time.Since(start).Milliseconds(),
			})
			logger.LogAsync(&Entry{
				Actor:      actor,
				Action:     ActionAPIAccess,
				EntityType: EntityAPI,
				EntityID:   r.Method + " " + r.URL.Path,
				After:      string(after),
				TraceID:    trace.GetTraceID(ctx),
			})
		})
	}
}
