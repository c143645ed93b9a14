package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                   "/",
		"/":                                  "/",
		"/metrics":                           "/metrics",
		"/api/healthchecker":                 "/api/healthchecker",
		"/api/contacts/":                     "/api/contacts",
		"/api/contacts/42":                   "/api/contacts/:id",
		"/api/auth/login":                    "/api/auth/login",
		"/api/auth/confirmed_email/eyJhbGci": "/api/auth/confirmed_email/:token",
		"/api/users/me":                      "/api/users/me",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalPath(in), in)
	}
}

func TestCanonicalPath_UnknownPathsShareOneLabel(t *testing.T) {
	junk := []string{
		"/scan-1",
		"/scan-2",
		"/wp-admin/1/x",
		"/wp-admin/2/x",
		"/api/contacts/abc",
		"/api/contacts/1/extra",
		"/api/users/someone-else",
		"/api/auth/confirmed_email",
		"/api/nope/1/2",
	}
	for _, p := range junk {
		assert.Equal(t, "other", CanonicalPath(p), p)
	}
}

func TestInstrumentHandler_UnknownPathsDoNotAddSeries(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "other", "404"))
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/scan-"+strconv.Itoa(i), nil))
	}
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "other", "404"))
	assert.Equal(t, before+5, after)
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/contacts/:id", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contacts/7", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/contacts/:id", "418"))
	assert.Equal(t, before+1, after)
}

func TestRecorders(t *testing.T) {
	RecordMailDelivery("verify_email", 10*time.Millisecond, nil)
	RecordMailDelivery("verify_email", 0, errors.New("smtp down"))
	RecordMailDropped("")
	RecordRateLimited("/api/contacts/")
	RecordJobRun("birthday-digest", true)

	assert.GreaterOrEqual(t, testutil.ToFloat64(mailDeliveries.WithLabelValues("verify_email", "failed")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(mailDeliveries.WithLabelValues("unknown", "dropped")), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(rateLimited.WithLabelValues("/api/contacts/")), 1.0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.True(t, strings.Contains(rec.Body.String(), "contactbook_rate_limited_total"))
}
