package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-Id"

// Custom response writer to capture the status code and response size.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	n, err := lrw.ResponseWriter.Write(b)
	lrw.written += n
	return n, err
}

// RequestObserver records finished requests. *metrics.Metrics implements it.
type RequestObserver interface {
	ObserveRequest(method, path string, status int, size int64, elapsed time.Duration)
}

// LoggingMiddleware assigns a request id, puts a child logger carrying it into the request
// context, and logs details about the HTTP request and response.
func LoggingMiddleware(logger zerolog.Logger, observer RequestObserver, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		reqLogger := logger.With().Str("request_id", requestID).Logger()
		r = r.WithContext(reqLogger.WithContext(r.Context()))
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		reqLogger.Debug().
			Str("method", r.Method).
			Str("uri", r.RequestURI).
			Str("remote", r.RemoteAddr).
			Int64("size", r.ContentLength).
			Msg("received request")

		startTime := time.Now()
		next.ServeHTTP(lrw, r)
		elapsed := time.Since(startTime)

		ev := reqLogger.Info()
		if lrw.statusCode >= http.StatusInternalServerError {
			ev = reqLogger.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", lrw.statusCode).
			Int("bytes", lrw.written).
			Dur("elapsed", elapsed).
			Msg("request handled")
		if observer != nil {
			observer.ObserveRequest(r.Method, routeLabel(r.URL.Path), lrw.statusCode, r.ContentLength, elapsed)
		}
	})
}

// routeLabel keeps metric label cardinality bounded.
func routeLabel(path string) string {
	switch path {
	case "/healthz", "/prove", "/encode", "/metrics":
		return path
	default:
		return "other"
	}
}

func requestIDFrom(w http.ResponseWriter) string { return w.Header().Get(requestIDHeader) }
