// Package httpapi exposes the contactbook services over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/R3E-Network/contactbook/internal/app"
	"github.com/R3E-Network/contactbook/internal/app/metrics"
	"github.com/R3E-Network/contactbook/internal/middleware"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	// AllowedOrigins lists CORS origins. "*" allows any origin.
	AllowedOrigins []string
	// Limiter throttles authenticated routes. Nil disables rate limiting.
	Limiter *middleware.RateLimiter
	// Metrics exposes /metrics when set.
	Metrics bool
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns the complete HTTP handler: routes plus the middleware
// chain every request passes through.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("http")
	}
	h := &handler{app: application}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(h.notFound)
	router.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	router.HandleFunc("/", h.root).Methods(http.MethodGet)
	router.HandleFunc("/api/healthchecker", h.healthchecker).Methods(http.MethodGet)
	if opts.Metrics {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	authn := middleware.NewAuthMiddleware(application.Users, log.Named("auth"))
	protect := []mux.MiddlewareFunc{authn.Handler}
	if opts.Limiter != nil {
		protect = append(protect, opts.Limiter.Handler)
	}

	authRoutes := router.PathPrefix("/api/auth").Subrouter()
	authRoutes.HandleFunc("/signup", h.signup).Methods(http.MethodPost)
	authRoutes.HandleFunc("/login", h.login).Methods(http.MethodPost)
	authRoutes.HandleFunc("/refresh_token", h.refreshToken).Methods(http.MethodGet)
	authRoutes.HandleFunc("/confirmed_email/{token}", h.confirmedEmail).Methods(http.MethodGet)
	authRoutes.HandleFunc("/request_email", h.requestEmail).Methods(http.MethodPost)
	authRoutes.Handle("/logout", authn.Handler(http.HandlerFunc(h.logout))).Methods(http.MethodPost)

	userRoutes := router.PathPrefix("/api/users").Subrouter()
	userRoutes.Use(protect...)
	userRoutes.HandleFunc("/me", h.me).Methods(http.MethodGet)
	userRoutes.HandleFunc("/avatar", h.updateAvatar).Methods(http.MethodPatch)

	contactRoutes := router.PathPrefix("/api/contacts").Subrouter()
	contactRoutes.Use(protect...)
	for _, path := range []string{"", "/"} {
		contactRoutes.HandleFunc(path, h.listContacts).Methods(http.MethodGet)
		contactRoutes.HandleFunc(path, h.createContact).Methods(http.MethodPost)
	}
	contactRoutes.HandleFunc("/{id:[0-9]+}", h.getContact).Methods(http.MethodGet)
	contactRoutes.HandleFunc("/{id:[0-9]+}", h.updateContact).Methods(http.MethodPut)
	contactRoutes.HandleFunc("/{id:[0-9]+}", h.deleteContact).Methods(http.MethodDelete)

	tracing := middleware.NewTracingMiddleware(log)
	cors := middleware.NewCORSMiddleware(opts.AllowedOrigins)

	var chain http.Handler = router
	chain = middleware.ProcessTime(chain)
	chain = cors.Handler(chain)
	chain = metrics.InstrumentHandler(chain)
	chain = tracing.Handler(chain)
	return tracing.Recover(chain)
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, message{Message: "Navigation page"})
}

func (h *handler) healthchecker(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.Health.Check(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	writeErrorStatus(w, r, http.StatusNotFound, "Not Found")
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErrorStatus(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
}
