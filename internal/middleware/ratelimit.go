// Package middleware provides HTTP middleware for the contactbook API
package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/R3E-Network/contactbook/internal/app/metrics"
	"github.com/R3E-Network/contactbook/internal/errors"
	internalhttputil "github.com/R3E-Network/contactbook/internal/httputil"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// LimiterBackend decides whether one more request for key fits the budget.
// When it does not, retryAfter says how long the caller should wait.
type LimiterBackend interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimiter provides rate limiting functionality
type RateLimiter struct {
	backend  LimiterBackend
	requests int
	window   time.Duration
	logger   *logger.Logger
}

// NewRateLimiter creates a new rate limiter allowing requests per window for
// each client and route.
func NewRateLimiter(backend LimiterBackend, requests int, window time.Duration, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	return &RateLimiter{
		backend:  backend,
		requests: requests,
		window:   window,
		logger:   log,
	}
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		route := routeKey(r)
		key := clientKey(r) + ":" + route

		allowed, retryAfter, err := rl.backend.Allow(r.Context(), key)
		if err != nil {
			// Fail open: a broken limiter store must not take the API down.
			rl.logger.WithContext(r.Context()).WithError(err).Warn("rate limiter backend failed")
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			})
			metrics.RecordRateLimited(route)

			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			internalhttputil.WriteError(w, r, errors.RateLimitExceeded(rl.requests, rl.window.String()))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller: the authenticated user when known,
// otherwise the remote IP.
func clientKey(r *http.Request) string {
	if id := GetUserID(r.Context()); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// routeKey is the method plus the matched route template so every endpoint
// gets its own budget.
func routeKey(r *http.Request) string {
	path := r.URL.Path
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			path = tmpl
		}
	}
	return r.Method + " " + path
}

// =============================================================================
// In-memory backend
// =============================================================================

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryBackend keeps one token bucket per key in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
}

// NewMemoryBackend allows requests per window with a burst of requests.
func NewMemoryBackend(requests int, window time.Duration) *MemoryBackend {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &MemoryBackend{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		idle:    2 * window,
	}
}

func (b *MemoryBackend) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := time.Now()

	b.mu.Lock()
	bk, ok := b.buckets[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.buckets[key] = bk
	}
	bk.lastSeen = now
	b.mu.Unlock()

	res := bk.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, 0, fmt.Errorf("rate limiter burst too small")
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0, nil
	}
	res.CancelAt(now)
	return false, delay, nil
}

// Sweep drops buckets that have been idle long enough to be full again and
// returns how many were removed.
func (b *MemoryBackend) Sweep(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, bk := range b.buckets {
		if now.Sub(bk.lastSeen) > b.idle {
			delete(b.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

// =============================================================================
// Redis backend
// =============================================================================

// RedisBackend implements a fixed-window counter shared by every instance.
type RedisBackend struct {
	client   redis.UniversalClient
	requests int64
	window   time.Duration
	prefix   string
}

// NewRedisBackend allows requests per window per key.
func NewRedisBackend(client redis.UniversalClient, requests int, window time.Duration) *RedisBackend {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RedisBackend{
		client:   client,
		requests: int64(requests),
		window:   window,
		prefix:   "contactbook:ratelimit:",
	}
}

// Allow counts the request against key. The window is created with its
// expiry in the same transaction as the increment, so a counter can never be
// left without a TTL.
func (b *RedisBackend) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := b.prefix + strings.ReplaceAll(key, " ", "_")

	pipe := b.client.TxPipeline()
	pipe.SetNX(ctx, redisKey, 0, b.window)
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit counter: %w", err)
	}

	if incr.Val() <= b.requests {
		return true, 0, nil
	}
	wait := ttl.Val()
	if wait <= 0 {
		wait = b.window
	}
	return false, wait, nil
}
