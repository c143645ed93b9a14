package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:8080/"})

	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", client.baseURL)
	}
	if client.maxRetries != 2 {
		t.Errorf("default maxRetries = %d, want 2", client.maxRetries)
	}
}

func get(ctx context.Context, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Backoff: time.Millisecond})
	resp, err := client.Do(context.Background(), "/ping", get)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out["ok"] != "yes" {
		t.Fatalf("unexpected body: %v", out)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Backoff: time.Millisecond})
	resp, err := client.Do(context.Background(), "/upload", func(ctx context.Context, url string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader("a=b"))
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, MaxRetries: 1, Backoff: time.Millisecond})
	resp, err := client.Do(context.Background(), "/", get)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("abcdef"), 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "abcd" || !truncated {
		t.Fatalf("got %q truncated=%v", data, truncated)
	}
}

func TestWriteError_ServiceError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logger.WithTraceID(req.Context(), "trace-xyz"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, svcerrors.Unauthorized("Invalid email"))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatal("expected bearer challenge")
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Detail != "Invalid email" || body.TraceID != "trace-xyz" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestWriteError_PlainErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("db down"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := BearerToken(req); ok {
		t.Fatal("expected no token")
	}
	req.Header.Set("Authorization", "Bearer abc.def")
	if tok, ok := BearerToken(req); !ok || tok != "abc.def" {
		t.Fatalf("got %q %v", tok, ok)
	}
	req.Header.Set("Authorization", "Basic abc")
	if _, ok := BearerToken(req); ok {
		t.Fatal("expected basic auth to be rejected")
	}
}
