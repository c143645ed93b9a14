//go:build integration && postgres

package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/contactbook/internal/app/runtime"
	"github.com/R3E-Network/contactbook/internal/config"
	"github.com/R3E-Network/contactbook/internal/platform/migrations"
)

// Integration test against Postgres to ensure migrations and the core flows
// work with persistence.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	cfg := config.Default()
	cfg.Auth.SecretKey = "integration-secret"
	cfg.Database.DSN = dsn
	cfg.Database.AutoMigrate = true
	cfg.RateLimit.Enabled = false
	cfg.Logging.Level = "error"

	db, err := runtime.OpenDatabase(cfg.Database)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if err := migrations.Down(db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	appRuntime, err := runtime.NewApplication(cfg)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = appRuntime.Shutdown(context.Background()) })

	h := appRuntime.Handler()
	application := appRuntime.App()

	resp := do(h, httptest.NewRequest(http.MethodGet, "/api/healthchecker", nil))
	if resp.Code != http.StatusOK || gjson.Get(resp.Body.String(), "database").String() != "postgres" {
		t.Fatalf("health: got %d %s", resp.Code, resp.Body.String())
	}

	access, _ := signupAndLogin(t, application, h, "integration@example.com")

	resp = do(h, authedRequest(http.MethodPost, "/api/contacts/", access, map[string]string{
		"name": "Ada", "last_name": "Lovelace", "email": "ada@example.com",
		"phone_number": "+380501234567", "birth_date": "1815-12-10",
	}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create contact: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	id := gjson.Get(resp.Body.String(), "id").String()

	resp = do(h, authedRequest(http.MethodGet, "/api/contacts/?last_name=Lovelace", access, nil))
	if got := gjson.Get(resp.Body.String(), "#").Int(); got != 1 {
		t.Fatalf("expected one contact, got %d", got)
	}

	resp = do(h, authedRequest(http.MethodDelete, "/api/contacts/"+id, access, nil))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.Code)
	}
}
