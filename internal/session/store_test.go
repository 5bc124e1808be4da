package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolbeh/desktop/internal/model"
)

func TestStore_SetAndClear(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Authenticated())
	_, ok := s.Tokens()
	assert.False(t, ok)

	s.SetTokens(model.Tokens{AccessToken: "T", RefreshToken: "R"})
	s.SetIdentity(model.UserInfo{FirstName: "Sara", LastName: "Ahmadi"})

	assert.True(t, s.Authenticated())
	assert.Equal(t, "T", s.AccessToken())
	assert.Equal(t, "R", s.RefreshToken())
	u, ok := s.Identity()
	require.True(t, ok)
	assert.Equal(t, "Sara Ahmadi", u.DisplayName())

	s.Clear()
	assert.Equal(t, "", s.AccessToken())
	assert.Equal(t, "", s.RefreshToken())
	_, ok = s.Identity()
	assert.False(t, ok)
}

func TestStore_OpaqueTokenHasNoExpiry(t *testing.T) {
	s := NewStore()
	s.SetTokens(model.Tokens{AccessToken: "not-a-jwt"})
	tok, _ := s.Tokens()
	assert.Nil(t, tok.ExpiresAt)
	assert.False(t, s.Expired(time.Now()))
}

func TestStore_DecodesJWTExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("any-secret"))
	require.NoError(t, err)

	s := NewStore()
	s.SetTokens(model.Tokens{AccessToken: signed})
	tok, _ := s.Tokens()
	require.NotNil(t, tok.ExpiresAt)
	assert.True(t, exp.Equal(*tok.ExpiresAt))
	assert.False(t, s.Expired(time.Now()))
	assert.True(t, s.Expired(exp.Add(time.Second)))
}
