// Package credential hashes member passwords and verifies stored credentials,
// including legacy rows that still hold the password in plain text.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	Algorithm     = "pbkdf2_sha256"
	MinIterations = 100000
	SaltLen       = 16
	KeyLen        = 32
)

type Hasher struct {
	Iterations int
}

// NewHasher clamps iterations to MinIterations.
func NewHasher(iterations int) *Hasher {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return &Hasher{Iterations: iterations}
}

// Hash derives a digest of the form pbkdf2_sha256$<iterations>$<salt>$<key>.
// A nil salt is replaced with SaltLen random bytes.
func (h *Hasher) Hash(password string, salt []byte) (string, error) {
	if salt == nil {
		salt = make([]byte, SaltLen)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("failed to generate salt: %w", err)
		}
	}
	key := pbkdf2.Key([]byte(password), salt, h.Iterations, KeyLen, sha256.New)
	return encode(h.Iterations, salt, key), nil
}

// Verify checks password against stored. needsUpgrade is true when stored is a legacy
// plaintext credential that matched; the caller should rehash and persist it.
// Malformed digests never match.
func (h *Hasher) Verify(password, stored string) (ok, needsUpgrade bool) {
	if !IsDigest(stored) {
		if stored == "" {
			return false, false
		}
		match := subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
		return match, match
	}

	iterations, salt, key, err := decode(stored)
	if err != nil {
		return false, false
	}
	derived := pbkdf2.Key([]byte(password), salt, iterations, len(key), sha256.New)
	return subtle.ConstantTimeCompare(derived, key) == 1, false
}

// IsDigest reports whether stored carries the algorithm tag rather than legacy plain text.
func IsDigest(stored string) bool {
	return strings.HasPrefix(stored, Algorithm+"$")
}

func encode(iterations int, salt, key []byte) string {
	return strings.Join([]string{
		Algorithm,
		strconv.Itoa(iterations),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$")
}

func decode(stored string) (int, []byte, []byte, error) {
	parts := strings.Split(stored, "$")
	if len(parts) != 4 || parts[0] != Algorithm {
		return 0, nil, nil, fmt.Errorf("unrecognized digest")
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return 0, nil, nil, fmt.Errorf("invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, fmt.Errorf("invalid salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, fmt.Errorf("invalid key")
	}
	return iterations, salt, key, nil
}
