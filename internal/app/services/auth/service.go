// Package auth issues and verifies the JWTs and password hashes used by the
// account flows.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	svcerrors "github.com/R3E-Network/contactbook/internal/errors"
)

// Token scopes. A token is only accepted where its scope is expected.
const (
	ScopeAccess  = "access_token"
	ScopeRefresh = "refresh_token"
	ScopeEmail   = "email_token"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultEmailTTL   = 24 * time.Hour
)

// Config configures the token service.
type Config struct {
	SecretKey  string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	EmailTTL   time.Duration
	BcryptCost int
}

// Claims is the payload of every token this service issues.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Service signs and validates tokens and hashes passwords.
type Service struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	emailTTL   time.Duration
	cost       int
	now        func() time.Time
}

// New constructs the service. Zero TTLs fall back to 15m / 7d / 24h.
func New(cfg Config) (*Service, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("auth: secret key is required")
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = "HS256"
	}
	method := jwt.GetSigningMethod(alg)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: unsupported algorithm %q", alg)
	}

	s := &Service{
		secret:     []byte(cfg.SecretKey),
		method:     method,
		accessTTL:  orDefault(cfg.AccessTTL, defaultAccessTTL),
		refreshTTL: orDefault(cfg.RefreshTTL, defaultRefreshTTL),
		emailTTL:   orDefault(cfg.EmailTTL, defaultEmailTTL),
		cost:       cfg.BcryptCost,
		now:        time.Now,
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	return s, nil
}

// WithClock replaces the time source used for issuing and validating tokens.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// HashPassword returns the bcrypt hash of password.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches hash.
func (s *Service) VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// CreateAccessToken issues a short-lived access token for email.
func (s *Service) CreateAccessToken(email string) (string, error) {
	return s.sign(email, ScopeAccess, s.accessTTL)
}

// CreateRefreshToken issues a refresh token for email.
func (s *Service) CreateRefreshToken(email string) (string, error) {
	return s.sign(email, ScopeRefresh, s.refreshTTL)
}

// CreateEmailToken issues the token embedded in confirmation links.
func (s *Service) CreateEmailToken(email string) (string, error) {
	return s.sign(email, ScopeEmail, s.emailTTL)
}

// IssuePair creates a fresh access and refresh token for email.
func (s *Service) IssuePair(email string) (TokenPair, error) {
	access, err := s.CreateAccessToken(email)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.CreateRefreshToken(email)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// ParseAccessToken returns the subject of a valid access token.
func (s *Service) ParseAccessToken(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", svcerrors.InvalidToken(err)
	}
	if claims.Scope != ScopeAccess || claims.Subject == "" {
		return "", svcerrors.InvalidToken(nil)
	}
	return claims.Subject, nil
}

// DecodeRefreshToken returns the subject of a valid refresh token.
func (s *Service) DecodeRefreshToken(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil {
		return "", svcerrors.InvalidToken(err)
	}
	if claims.Scope != ScopeRefresh {
		return "", svcerrors.Unauthorized("Invalid scope for token")
	}
	return claims.Subject, nil
}

// EmailFromToken returns the subject of a valid email confirmation token.
func (s *Service) EmailFromToken(token string) (string, error) {
	claims, err := s.parse(token)
	if err != nil || claims.Scope != ScopeEmail || claims.Subject == "" {
		return "", svcerrors.Unprocessable("Invalid token for email verification", err)
	}
	return claims.Subject, nil
}

func (s *Service) sign(subject, scope string, ttl time.Duration) (string, error) {
	now := s.now().UTC()
	claims := &Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", scope, err)
	}
	return signed, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
