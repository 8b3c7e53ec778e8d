package observability

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const traceHeader = "X-Trace-ID"

var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// TraceMiddleware propagates a caller supplied X-Trace-ID, or mints one when
// the header is absent or not a plain token. It also opens the request's
// annotation set read by LoggingMiddleware.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if !traceIDPattern.MatchString(traceID) {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceHeader, traceID)
		ctx := context.WithValue(ContextWithTraceID(r.Context(), traceID), annotationsKey{}, &annotations{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type annotationsKey struct{}

type annotations struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

// Annotate adds attributes to the enclosing request's log line. Every context
// derived from the request context shares the same set.
func Annotate(ctx context.Context, attrs ...slog.Attr) {
	bag, ok := ctx.Value(annotationsKey{}).(*annotations)
	if !ok {
		return
	}
	bag.mu.Lock()
	bag.attrs = append(bag.attrs, attrs...)
	bag.mu.Unlock()
}

func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec, start := record(w), time.Now()
			next.ServeHTTP(rec, r)

			attrs := []slog.Attr{
				slog.String("trace_id", TraceIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("route", routeLabel(r)),
				slog.Int("status", rec.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int("bytes", rec.bytes),
			}
			if bag, ok := r.Context().Value(annotationsKey{}).(*annotations); ok {
				bag.mu.Lock()
				attrs = append(attrs, bag.attrs...)
				bag.mu.Unlock()
			}
			logger.LogAttrs(r.Context(), statusLevel(rec.status), "http_request", attrs...)
		})
	}
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpInFlightRequests.Inc()
		defer httpInFlightRequests.Dec()

		rec, start := record(w), time.Now()
		next.ServeHTTP(rec, r)

		labels := []string{r.Method, routeLabel(r), strconv.Itoa(rec.status)}
		httpRequestsTotal.WithLabelValues(labels...).Inc()
		httpRequestDurationSeconds.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

// routeLabel keeps session IDs out of metric labels by preferring the mux
// pattern that matched the request.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

func statusLevel(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelWarn
	case status == http.StatusTooManyRequests:
		return slog.LevelInfo
	case status >= http.StatusBadRequest:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func record(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status, r.wroteHeader = status, true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(body []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(body)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
