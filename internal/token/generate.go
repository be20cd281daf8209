package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// Prefix marks share tokens so they're recognizable in logs and
	// support tickets without being parseable into anything.
	Prefix = "ift_"

	// 256 bits of randomness, double the floor needed to make
	// guessing infeasible.
	randomBytes = 32

	// Base64 RawURL renders 32 bytes as 43 characters.
	encodedLength = 43
)

// Generate returns a fresh token string: the prefix plus 32 CSPRNG
// bytes in URL-safe base64 without padding.
func Generate() (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("error reading random bytes: %w", err)
	}

	return Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// WellFormed reports whether a string even has the shape of a token.
// It exists so handlers can drop garbage before a database round trip;
// the store remains the authority on whether the token is real.
func WellFormed(s string) bool {
	if len(s) != len(Prefix)+encodedLength {
		return false
	}
	if !strings.HasPrefix(s, Prefix) {
		return false
	}

	_, err := base64.RawURLEncoding.DecodeString(s[len(Prefix):])
	return err == nil
}
