package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// requestIDHeader is read from and echoed to clients.
const requestIDHeader = "X-Request-ID"

// requestID makes sure every request carries an X-Request-ID, generating a
// UUID when the client sent none, and echoes it on the response. It runs
// before middleware.RequestID, which then adopts the same id.
func requestID(next http.Handler) http.Handler {
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

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr))
	})
}

// rateLimit returns a per-client-IP limiter for formatted rates such as
// "60-M". An empty rate disables limiting.
func (s *Server) rateLimit(formatted string) (func(http.Handler) http.Handler, error) {
	if formatted == "" {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", formatted, err)
	}
	lim := limiter.New(memory.NewStore(), rate)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lc, err := lim.Get(r.Context(), clientKey(r))
			if err != nil {
				// Fail open.
				s.logger.Warn("rate limiter failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.FormatInt(lc.Limit, 10))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(lc.Remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(lc.Reset, 10))
			if lc.Reached {
				s.respondJSON(w, http.StatusTooManyRequests, errorBody{
					Error:   "Too many requests",
					Message: fmt.Sprintf("rate limit of %d per %s exceeded", rate.Limit, rate.Period),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}

// clientKey is the client address without its port.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
