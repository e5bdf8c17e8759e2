package logging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
)

const RequestIDHeader = "X-Request-ID"

// Middleware attaches a request-scoped logger carrying a request id to every
// request and writes one access line when the handler returns. An incoming
// X-Request-ID is reused so ids correlate across the viewer and this tier.
func Middleware(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)

	h = requestID(h)
	return attachLogger(h)
}

// attachLogger stores the logger current at request time, so reloads apply to
// new requests.
func attachLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		l := hlog.FromRequest(r).With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

// RecoveryLogger adapts the global logger to gorilla/handlers' RecoveryHandler.
type RecoveryLogger struct{}

func (RecoveryLogger) Println(v ...interface{}) {
	Error().Interface("panic", v).Msg("recovered from panic in handler")
}
