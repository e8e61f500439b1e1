package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const requestIDHeader = "X-Request-ID"

// Traffic kinds reported in request logs
const (
	kindProbe  = "probe"
	kindScrape = "scrape"
	kindOther  = "other"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// RequestID echoes the caller's X-Request-ID or assigns a new one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func trafficKind(path, metricsPath string) string {
	switch path {
	case "/healthz", "/readyz":
		return kindProbe
	case metricsPath:
		return kindScrape
	}
	return kindOther
}

// logLevel keeps healthy probe and scrape traffic at debug. A failing
// probe is a warning; anything else reaching the agent is info.
func logLevel(kind string, status int) zapcore.Level {
	switch {
	case kind == kindOther:
		return zapcore.InfoLevel
	case status >= http.StatusInternalServerError:
		return zapcore.WarnLevel
	}
	return zapcore.DebugLevel
}

// Logging records one line per request, tagged with its traffic kind
func Logging(logger *zap.Logger, metricsPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			kind := trafficKind(r.URL.Path, metricsPath)
			ce := logger.Check(logLevel(kind, rec.status), "Agent HTTP "+kind)
			if ce == nil {
				return
			}
			fields := []zap.Field{
				zap.String("kind", kind),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", r.RemoteAddr),
				zap.String("request_id", r.Header.Get(requestIDHeader)),
			}
			if kind != kindProbe {
				fields = append(fields,
					zap.String("method", r.Method),
					zap.String("user_agent", r.UserAgent()))
			}
			ce.Write(fields...)
		})
	}
}

// Recovery answers a panicking handler with a JSON 500
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				id := r.Header.Get(requestIDHeader)
				logger.Error("Agent HTTP handler panicked",
					zap.Any("panic", rv),
					zap.String("path", r.URL.Path),
					zap.String("request_id", id))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"status":"error","request_id":"` + id + `"}`))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
