package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/vdogen/internal/api/response"
	"github.com/kiranshivaraju/vdogen/internal/cache"
)

const (
	defaultRequests = 100
	defaultWindow   = 15 * time.Minute
)

// RateLimit provides fixed-window per-user rate limiting via Redis.
type RateLimit struct {
	cache    cache.Cache
	requests int
	window   time.Duration
}

// NewRateLimit creates a new RateLimit middleware allowing requests per window.
func NewRateLimit(c cache.Cache, requests int, window time.Duration) *RateLimit {
	if requests <= 0 {
		requests = defaultRequests
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &RateLimit{cache: c, requests: requests, window: window}
}

// Limit applies rate limiting based on the user id set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r)
		if !ok {
			// No user means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(userID), rl.window)
		if err != nil {
			// On Redis error, allow the request (fail open)
			slog.Warn("rate limit check failed", "user_id", userID, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requests - int(count)
		if remaining < 0 {
			remaining = 0
		}
		windowSecs := int(rl.window.Seconds())

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(rl.window).Unix()))

		if count > int64(rl.requests) {
			w.Header().Set("Retry-After", strconv.Itoa(windowSecs))
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests, please try again later", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
