package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// ErrMalformedHash is returned when a stored key hash cannot be decoded.
var ErrMalformedHash = errors.New("auth: malformed key hash")

// HashAPIKey hashes an operator API key with Argon2id. The result is
// "<salt>$<hash>", both base64, and is what WELLAPP_API_KEY_HASH holds.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", errors.New("auth: empty api key")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return base64.StdEncoding.EncodeToString(salt) + "$" + base64.StdEncoding.EncodeToString(hash), nil
}

// VerifyAPIKey checks apiKey against an encoded Argon2id hash in constant time.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

// ValidateHash reports whether encoded is a well-formed key hash. Config
// loading calls it so a bad hash fails at startup, not on the first login.
func ValidateHash(encoded string) error {
	_, _, err := decodeHash(encoded)
	return err
}

func decodeHash(encoded string) (salt, hash []byte, err error) {
	saltPart, hashPart, ok := strings.Cut(encoded, "$")
	if !ok {
		return nil, nil, ErrMalformedHash
	}
	if salt, err = base64.StdEncoding.DecodeString(saltPart); err != nil {
		return nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if hash, err = base64.StdEncoding.DecodeString(hashPart); err != nil {
		return nil, nil, fmt.Errorf("%w: hash: %v", ErrMalformedHash, err)
	}
	if len(salt) != saltLen || len(hash) != argonKeyLen {
		return nil, nil, fmt.Errorf("%w: unexpected length", ErrMalformedHash)
	}
	return salt, hash, nil
}
