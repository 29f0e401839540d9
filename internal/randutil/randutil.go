// Package randutil generates cryptographically strong tokens and salts used
// by the password engine and session manager.
package randutil

import (
	"crypto/rand"
	"fmt"
)

const urlSafeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Token returns n characters drawn uniformly from a URL-safe alphabet using
// a cryptographically strong source. Used for session tokens.
func Token(n int) (string, error) {
	out := make([]byte, n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("randutil: read random bytes: %w", err)
	}
	for i, b := range buf {
		out[i] = urlSafeAlphabet[int(b)%len(urlSafeAlphabet)]
	}
	return string(out), nil
}

// Salt returns n raw random bytes, used as a scrypt salt.
func Salt(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("randutil: read random bytes: %w", err)
	}
	return buf, nil
}
