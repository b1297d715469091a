package service

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// TokenBytes is the entropy of a link token. 24 bytes encode to 32 URL-safe characters.
const TokenBytes = 24

// NewToken returns an unguessable URL-safe token from crypto/rand.
func NewToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
