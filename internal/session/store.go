// Package session keeps the signed-in user's tokens and identity in memory.
package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kolbeh/desktop/internal/model"
)

// Store holds the current token pair and user identity. It is never persisted.
type Store struct {
	mu       sync.RWMutex
	tokens   *model.Tokens
	identity *model.UserInfo
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// SetTokens replaces the token pair. The access token's exp claim, if it is a
// JWT, is decoded without verification so callers can tell when it lapses.
func (s *Store) SetTokens(t model.Tokens) {
	if t.ExpiresAt == nil {
		t.ExpiresAt = expiryOf(t.AccessToken)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = &t
}

// Tokens returns a copy of the stored pair and whether one is present.
func (s *Store) Tokens() (model.Tokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return model.Tokens{}, false
	}
	return *s.tokens, true
}

// AccessToken returns the access token or "" when signed out.
func (s *Store) AccessToken() string {
	t, _ := s.Tokens()
	return t.AccessToken
}

// RefreshToken returns the refresh token or "" when absent.
func (s *Store) RefreshToken() string {
	t, _ := s.Tokens()
	return t.RefreshToken
}

// Authenticated reports whether an access token is held.
func (s *Store) Authenticated() bool {
	return s.AccessToken() != ""
}

// Expired reports whether the access token carries an exp claim in the past.
func (s *Store) Expired(now time.Time) bool {
	t, ok := s.Tokens()
	if !ok || t.ExpiresAt == nil {
		return false
	}
	return !now.Before(*t.ExpiresAt)
}

// SetIdentity records the user info shown on the dashboard.
func (s *Store) SetIdentity(u model.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &u
}

// Identity returns the stored user info, if any.
func (s *Store) Identity() (model.UserInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return model.UserInfo{}, false
	}
	return *s.identity, true
}

// Clear drops tokens and identity (logout).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil
	s.identity = nil
}

func expiryOf(accessToken string) *time.Time {
	if accessToken == "" {
		return nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	exp := claims.ExpiresAt.Time
	return &exp
}
