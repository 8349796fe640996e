// Package auth issues and verifies owner sessions and threads the
// authenticated identity through request contexts.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Token lengths in hex characters.
const (
	SessionTokenLength      = 32
	VerificationTokenLength = 8
)

// GenerateToken returns a random token of n hex characters.
func GenerateToken(n int) (string, error) {
	buf := make([]byte, n/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
