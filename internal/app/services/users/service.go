// Package users implements account registration, login, token rotation,
// email confirmation and avatar management.
package users

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/R3E-Network/contactbook/internal/app/domain/user"
	"github.com/R3E-Network/contactbook/internal/app/services/auth"
	"github.com/R3E-Network/contactbook/internal/app/services/mail"
	"github.com/R3E-Network/contactbook/internal/app/storage"
	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
	"github.com/R3E-Network/contactbook/pkg/logger"
)

// Notifier accepts outbound mail for asynchronous delivery.
type Notifier interface {
	Enqueue(msg mail.Message) error
}

// AvatarResolver returns a default avatar URL for an email address.
type AvatarResolver interface {
	Resolve(ctx context.Context, email string) (string, error)
}

// ImageStore persists uploaded avatars and returns their public URL.
type ImageStore interface {
	Upload(ctx context.Context, publicID string, r io.Reader) (string, error)
}

// SignupInput carries the registration form.
type SignupInput struct {
	Username string
	Email    string
	Password string
}

// Service coordinates user accounts.
type Service struct {
	store  storage.UserStore
	tokens *auth.Service
	log    *logger.Logger

	notifier Notifier
	avatars  AvatarResolver
	images   ImageStore
	cache    Cache
}

// New constructs a user service.
func New(store storage.UserStore, tokens *auth.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{
		store:  store,
		tokens: tokens,
		log:    log,
		cache:  noCache{},
	}
}

// WithNotifier sets where confirmation mail is queued.
func (s *Service) WithNotifier(n Notifier) { s.notifier = n }

// WithAvatarResolver sets the resolver used for signup avatars.
func (s *Service) WithAvatarResolver(r AvatarResolver) { s.avatars = r }

// WithImageStore enables avatar uploads.
func (s *Service) WithImageStore(images ImageStore) { s.images = images }

// WithCache enables caching of authenticated users.
func (s *Service) WithCache(c Cache) {
	if c == nil {
		c = noCache{}
	}
	s.cache = c
}

// Signup registers a new unconfirmed account and queues the confirmation
// email. baseURL is the externally visible root used to build the link.
func (s *Service) Signup(ctx context.Context, in SignupInput, baseURL string) (user.User, error) {
	email := user.NormalizeEmail(in.Email)
	username := strings.TrimSpace(in.Username)

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return user.User{}, svcerrors.Conflict("Account already exists")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := s.tokens.HashPassword(in.Password)
	if err != nil {
		return user.User{}, err
	}

	u := user.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}
	if s.avatars != nil {
		avatarURL, err := s.avatars.Resolve(ctx, email)
		if err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("avatar lookup failed")
		} else {
			u.Avatar = avatarURL
		}
	}

	created, err := s.store.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return user.User{}, svcerrors.Conflict("Account already exists")
		}
		return user.User{}, fmt.Errorf("create user: %w", err)
	}

	s.sendVerification(ctx, created, baseURL)
	s.log.WithContext(ctx).WithField("user_id", created.ID).Info("user registered")
	return created, nil
}

// Login checks credentials and issues a fresh token pair. The refresh token
// is stored so it can later be rotated or revoked.
func (s *Service) Login(ctx context.Context, email, password string) (auth.TokenPair, error) {
	u, err := s.store.GetUserByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.TokenPair{}, svcerrors.Unauthorized("Invalid email")
		}
		return auth.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}
	if !u.Confirmed {
		return auth.TokenPair{}, svcerrors.Unauthorized("Email not confirmed")
	}
	if !s.tokens.VerifyPassword(password, u.PasswordHash) {
		s.log.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"user_id": u.ID})
		return auth.TokenPair{}, svcerrors.Unauthorized("Invalid password")
	}
	return s.issue(ctx, u)
}

// Refresh exchanges a refresh token for a new pair. A token that does not
// match the stored one revokes the stored token, so a replayed token logs
// the account out everywhere.
func (s *Service) Refresh(ctx context.Context, token string) (auth.TokenPair, error) {
	email, err := s.tokens.DecodeRefreshToken(token)
	if err != nil {
		return auth.TokenPair{}, err
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return auth.TokenPair{}, svcerrors.Unauthorized("Invalid refresh token")
		}
		return auth.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}

	if u.RefreshToken != token {
		if err := s.store.SetRefreshToken(ctx, u.ID, ""); err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("clear refresh token failed")
		}
		s.log.LogSecurityEvent(ctx, "refresh_token_mismatch", map[string]interface{}{"user_id": u.ID})
		return auth.TokenPair{}, svcerrors.Unauthorized("Invalid refresh token")
	}
	return s.issue(ctx, u)
}

// ConfirmEmail marks the account named by an email token as confirmed. It
// reports whether the account had already been confirmed.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (bool, error) {
	email, err := s.tokens.EmailFromToken(token)
	if err != nil {
		return false, err
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, svcerrors.BadRequest("Verification error")
		}
		return false, fmt.Errorf("lookup user: %w", err)
	}
	if u.Confirmed {
		return true, nil
	}
	if err := s.store.ConfirmEmail(ctx, email); err != nil {
		return false, fmt.Errorf("confirm email: %w", err)
	}
	s.cache.Invalidate(ctx, email)
	return false, nil
}

// RequestEmail resends the confirmation link. Unknown addresses are not
// reported so the endpoint cannot be used to discover accounts.
func (s *Service) RequestEmail(ctx context.Context, email, baseURL string) (bool, error) {
	u, err := s.store.GetUserByEmail(ctx, user.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup user: %w", err)
	}
	if u.Confirmed {
		return true, nil
	}
	s.sendVerification(ctx, u, baseURL)
	return false, nil
}

// CurrentUser resolves the owner of an access token.
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (user.User, error) {
	email, err := s.tokens.ParseAccessToken(accessToken)
	if err != nil {
		return user.User{}, err
	}

	if u, ok := s.cache.Get(ctx, email); ok {
		return u, nil
	}

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, svcerrors.InvalidToken(nil)
		}
		return user.User{}, fmt.Errorf("lookup user: %w", err)
	}
	s.cache.Set(ctx, u)
	return u, nil
}

// UpdateAvatar uploads a new avatar image for u and stores its URL.
func (s *Service) UpdateAvatar(ctx context.Context, u user.User, r io.Reader) (user.User, error) {
	if s.images == nil {
		return user.User{}, svcerrors.Unavailable("Avatar uploads are not configured", nil)
	}

	url, err := s.images.Upload(ctx, AvatarPublicID(u), r)
	if err != nil {
		return user.User{}, svcerrors.Unavailable("Avatar upload failed", err)
	}

	updated, err := s.store.SetAvatar(ctx, u.Email, url)
	if err != nil {
		return user.User{}, fmt.Errorf("set avatar: %w", err)
	}
	s.cache.Invalidate(ctx, u.Email)
	return updated, nil
}

// AvatarPublicID names the stored image of u. Usernames may repeat across
// accounts, so the key is the account ID.
func AvatarPublicID(u user.User) string {
	return "contactbook/user-" + strconv.FormatInt(u.ID, 10)
}

// Logout revokes the stored refresh token of u.
func (s *Service) Logout(ctx context.Context, u user.User) error {
	if err := s.store.SetRefreshToken(ctx, u.ID, ""); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	s.cache.Invalidate(ctx, u.Email)
	return nil
}

func (s *Service) issue(ctx context.Context, u user.User) (auth.TokenPair, error) {
	pair, err := s.tokens.IssuePair(u.Email)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if err := s.store.SetRefreshToken(ctx, u.ID, pair.RefreshToken); err != nil {
		return auth.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

func (s *Service) sendVerification(ctx context.Context, u user.User, baseURL string) {
	if s.notifier == nil {
		return
	}
	token, err := s.tokens.CreateEmailToken(u.Email)
	if err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("create email token failed")
		return
	}
	if err := s.notifier.Enqueue(mail.VerificationMessage(u.Email, u.Username, baseURL, token)); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("queue confirmation email failed")
	}
}
