// Package middleware provides HTTP middleware for the contactbook API
package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/internal/errors"
	internalhttputil "github.com/R3E-Network/contactbook/internal/httputil"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// UserResolver maps an access token to its owner.
type UserResolver interface {
	CurrentUser(ctx context.Context, accessToken string) (user.User, error)
}

type userContextKey struct{}

// AuthMiddleware authenticates bearer access tokens and loads the caller
// into the request context.
type AuthMiddleware struct {
	users  UserResolver
	logger *logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(users UserResolver, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{users: users, logger: log}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Preflights carry no credentials.
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := internalhttputil.BearerToken(r)
		if !ok {
			m.respondError(w, r, errors.Unauthorized("Not authenticated"))
			return
		}

		u, err := m.users.CurrentUser(r.Context(), token)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithUser(r.Context(), u)
		m.logger.WithContext(ctx).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	internalhttputil.WriteError(w, r, serviceErr)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, u user.User) context.Context {
	ctx = context.WithValue(ctx, userContextKey{}, u)
	return logger.WithUserID(ctx, strconv.FormatInt(u.ID, 10))
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (user.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(user.User)
	return u, ok
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logger.GetUserID(ctx)
}
