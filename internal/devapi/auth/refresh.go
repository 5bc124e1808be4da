package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateRefreshToken returns a random Base64URL token of 32 bytes.
func GenerateRefreshToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
