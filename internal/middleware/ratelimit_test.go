package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMemoryBackend_OneRequestPerWindow(t *testing.T) {
	b := NewMemoryBackend(1, 20*time.Second)
	ctx := context.Background()

	allowed, _, err := b.Allow(ctx, "k")
	if err != nil || !allowed {
		t.Fatalf("first request: allowed=%v err=%v", allowed, err)
	}

	allowed, retry, err := b.Allow(ctx, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("second request within the window should be rejected")
	}
	if retry <= 0 || retry > 20*time.Second {
		t.Errorf("retryAfter = %v, want within (0, 20s]", retry)
	}

	allowed, _, _ = b.Allow(ctx, "other")
	if !allowed {
		t.Error("independent keys must not share a budget")
	}
}

func TestMemoryBackend_Sweep(t *testing.T) {
	b := NewMemoryBackend(1, time.Second)
	b.Allow(context.Background(), "a")
	b.Allow(context.Background(), "b")

	if n := b.Sweep(time.Now()); n != 0 {
		t.Errorf("Sweep removed %d fresh buckets, want 0", n)
	}
	if n := b.Sweep(time.Now().Add(time.Minute)); n != 2 {
		t.Errorf("Sweep removed %d idle buckets, want 2", n)
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestRateLimiter_PerRouteAndClient(t *testing.T) {
	rl := NewRateLimiter(NewMemoryBackend(1, 20*time.Second), 1, 20*time.Second, logger.Discard())

	router := mux.NewRouter()
	router.Use(rl.Handler)
	router.Handle("/api/contacts/{id}", okHandler())
	router.Handle("/api/users/me", okHandler())

	do := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("/api/contacts/1", "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	// Same route template, different id: still the same budget.
	rec := do("/api/contacts/2", "10.0.0.1:5555")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	if rec := do("/api/users/me", "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Errorf("other route status = %d, want 200", rec.Code)
	}
	if rec := do("/api/contacts/1", "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_KeysByUser(t *testing.T) {
	rl := NewRateLimiter(NewMemoryBackend(1, time.Minute), 1, time.Minute, logger.Discard())
	handler := rl.Handler(okHandler())

	do := func(id int64, remote string) int {
		req := httptest.NewRequest("GET", "/api/users/me", nil)
		req.RemoteAddr = remote
		req = req.WithContext(WithUser(req.Context(), user.User{ID: id}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do(1, "10.0.0.1:1"); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if code := do(1, "10.0.0.9:1"); code != http.StatusTooManyRequests {
		t.Errorf("same user from another IP: status = %d, want 429", code)
	}
	if code := do(2, "10.0.0.1:1"); code != http.StatusOK {
		t.Errorf("other user from same IP: status = %d, want 200", code)
	}
}

type failingBackend struct{}

func (failingBackend) Allow(context.Context, string) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	handler := NewRateLimiter(failingBackend{}, 1, time.Second, logger.Discard()).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/users/me", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// pipelineRecorder captures pipelined commands and aborts them before they
// reach the network.
type pipelineRecorder struct {
	cmds []redis.Cmder
}

var errPipelineRecorded = errors.New("pipeline recorded")

func (p *pipelineRecorder) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (p *pipelineRecorder) AfterProcess(context.Context, redis.Cmder) error { return nil }

func (p *pipelineRecorder) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	p.cmds = append(p.cmds, cmds...)
	return ctx, errPipelineRecorded
}

func (p *pipelineRecorder) AfterProcessPipeline(context.Context, []redis.Cmder) error { return nil }

func TestRedisBackend_ExpirySetInSameTransaction(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	rec := &pipelineRecorder{}
	client.AddHook(rec)

	b := NewRedisBackend(client, 1, 1500*time.Millisecond)
	if _, _, err := b.Allow(context.Background(), "user:1 GET /api/contacts"); !errors.Is(err, errPipelineRecorded) {
		t.Fatalf("Allow() error = %v, want recorded pipeline", err)
	}

	var names []string
	var set redis.Cmder
	for _, cmd := range rec.cmds {
		switch cmd.Name() {
		case "multi", "exec":
			continue
		case "set":
			set = cmd
		}
		names = append(names, cmd.Name())
	}
	if strings.Join(names, ",") != "set,incr,pttl" {
		t.Fatalf("pipeline = %v, want set,incr,pttl", names)
	}

	parts := make([]string, 0, len(set.Args()))
	for _, a := range set.Args() {
		parts = append(parts, fmt.Sprint(a))
	}
	want := "set contactbook:ratelimit:user:1_GET_/api/contacts 0 px 1500 nx"
	if got := strings.Join(parts, " "); got != want {
		t.Errorf("SET args = %q, want %q", got, want)
	}
}

func TestRedisBackend_Integration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	b := NewRedisBackend(client, 1, 2*time.Second)

	allowed, _, err := b.Allow(ctx, key)
	if err != nil || !allowed {
		t.Fatalf("first request: allowed=%v err=%v", allowed, err)
	}
	allowed, retry, err := b.Allow(ctx, key)
	if err != nil || allowed {
		t.Fatalf("second request: allowed=%v err=%v", allowed, err)
	}
	if retry <= 0 || retry > 2*time.Second {
		t.Errorf("retryAfter = %v", retry)
	}
}
