// Package auth handles account registration, login, and session resolution.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/store"
)

// ErrInvalidCredentials is returned by Login when the email or password is wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

const minPasswordLen = 8

// Service issues and resolves sessions backed by the store.
type Service struct {
	store  store.Store
	maxAge time.Duration
}

// NewService creates a Service. maxAge controls how long sessions stay valid.
func NewService(s store.Store, maxAge time.Duration) *Service {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &Service{store: s, maxAge: maxAge}
}

// MaxAge returns the configured session lifetime.
func (s *Service) MaxAge() time.Duration {
	return s.maxAge
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email: %q", email)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &models.User{Email: email, Name: name, PasswordHash: string(hash)}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies the credentials and issues a new session token.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, *models.Session, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	u, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return nil, nil, err
	}
	session := &models.Session{
		ID:        token,
		UserID:    u.ID,
		ExpiresAt: time.Now().UTC().Add(s.maxAge),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, nil, err
	}
	return u, session, nil
}

// Logout deletes the session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, token)
}

// Resolve maps a session token to its user. Unknown or expired tokens resolve
// to (nil, nil) so callers treat the request as unauthenticated rather than
// failing it.
func (s *Service) Resolve(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, nil
	}

	session, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, nil
	}
	if session.Expired(time.Now().UTC()) {
		_ = s.store.DeleteSession(ctx, session.ID)
		return nil, nil
	}

	u, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, nil
	}
	return u, nil
}

// newToken returns a 64-char hex token from 32 bytes of crypto randomness.
func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
