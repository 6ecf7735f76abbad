package user

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/bcrypt"
)

// HashToken returns the hex HMAC-SHA256 of raw keyed by pepper.
func HashToken(pepper []byte, raw string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// tokenMatches compares a computed hash against a stored one in constant
// time. The stored row could differ if the repository returned a stale row.
func tokenMatches(computed, stored string) bool {
	a, err := hex.DecodeString(computed)
	if err != nil {
		return false
	}
	b, err := hex.DecodeString(stored)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// NewRawToken returns a random 256-bit token, hex encoded.
func NewRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "read random")
	}
	return hex.EncodeToString(buf), nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) ([]byte, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}
	return h, nil
}
