package middleware

import (
	"context"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
	"go.uber.org/zap"
	httpmdlwr "goa.design/goa/v3/http/middleware"
	goamiddleware "goa.design/goa/v3/middleware"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RequestIDHeader carries the request ID on requests and responses
const RequestIDHeader = "X-Request-Id"

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so the first one is outermost
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// CORS allows every origin, matching the detection service's policy
func CORS() Middleware {
	return cors.AllowAll().Handler
}

// RequestID tags each request with an ID, reusing an incoming X-Request-Id,
// and echoes it on the response
func RequestID() Middleware {
	tag := httpmdlwr.RequestID(
		httpmdlwr.UseXRequestIDHeaderOption(true),
		httpmdlwr.XRequestHeaderLimitOption(128),
	)
	return func(next http.Handler) http.Handler {
		return tag(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := GetRequestID(r.Context()); id != "" {
				w.Header().Set(RequestIDHeader, id)
			}
			next.ServeHTTP(w, r)
		}))
	}
}

// GetRequestID returns the request ID stored by RequestID
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(goamiddleware.RequestIDKey).(string)
	return id
}

// zapLogger adapts a zap logger to the goa logging middleware
type zapLogger struct {
	logger *zap.SugaredLogger
}

// NewLogger returns a goa middleware.Logger writing to logger
func NewLogger(logger *zap.SugaredLogger) goamiddleware.Logger {
	return zapLogger{logger: logger}
}

func (l zapLogger) Log(keyvals ...interface{}) error {
	l.logger.Debugw("request", keyvals...)
	return nil
}

// Log writes the goa access log lines for each request. Long-lived
// streams (WebSocket upgrades, MJPEG) bypass it and log their own
// connects and disconnects.
func Log(logger *zap.SugaredLogger) Middleware {
	access := httpmdlwr.Log(NewLogger(logger))
	return func(next http.Handler) http.Handler {
		logged := access(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isLongLived(r) {
				next.ServeHTTP(w, r)
				return
			}
			logged.ServeHTTP(w, r)
		})
	}
}

func isLongLived(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") ||
		strings.HasSuffix(r.URL.Path, ".mjpeg")
}

// RateLimit rejects requests beyond perSecond (with a burst of burst) with 429.
// A non-positive rate disables limiting.
func RateLimit(perSecond float64, burst int) Middleware {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
