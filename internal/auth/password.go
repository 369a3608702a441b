// Package auth implements credential verification, JWT issuance, and the
// refresh-token store backing /users/login and /users/refresh.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltBytes        = 16
	keyBytes         = 32
	pbkdf2Iterations = 100_000
)

// HashPassword derives a PBKDF2-SHA256 hash with a fresh random salt. Both
// values are returned base64-encoded for storage.
func HashPassword(password string) (hash, salt string, err error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	key := pbkdf2.Key([]byte(password), raw, pbkdf2Iterations, keyBytes, sha256.New)
	return base64.StdEncoding.EncodeToString(key), base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyPassword reports whether password matches the stored hash/salt pair.
func VerifyPassword(password, hash, salt string) bool {
	rawSalt, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	rawHash, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	key := pbkdf2.Key([]byte(password), rawSalt, pbkdf2Iterations, keyBytes, sha256.New)
	return subtle.ConstantTimeCompare(key, rawHash) == 1
}
