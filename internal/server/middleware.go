package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/logging"
)

// RequestRecorder receives per-request measurements. *monitoring.Metrics
// satisfies it.
type RequestRecorder interface {
	ServerRequest(method, path string, statusCode int)
}

// statusRecorder captures the response code. Hijack is passed through for
// the status websocket.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// LoggingMiddleware logs every request and records it by route pattern.
func LoggingMiddleware(logger logging.Logger, metrics RequestRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			// set by ServeMux on the shared request
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			if metrics != nil {
				metrics.ServerRequest(r.Method, route, status)
			}
			logger.Debug(r.Context(), "HTTP request",
				"method", r.Method,
				"route", route,
				"status", status,
				"duration", time.Since(start))
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500.
func RecoveryMiddleware(handler *errors.ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					handler.Handle(r.Context(), errors.NewInternalError(errors.ErrCodeInternalError,
						fmt.Sprintf("panic serving %s %s", r.Method, r.URL.Path), fmt.Errorf("%v", v)))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware so the first one is outermost.
func chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
