package services

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// Supported password digest algorithms.
const (
	DigestSHA1    = "sha1"
	DigestSHA3256 = "sha3-256"
)

// PasswordHasher computes deterministic salted password digests.
type PasswordHasher interface {
	// Hash returns the hex digest of plaintext mixed with the process-wide salt.
	Hash(plaintext string) string
	// Verify recomputes the digest of plaintext and compares it with digest in constant time.
	Verify(plaintext, digest string) bool
}

// SaltedHasher implements PasswordHasher with a fixed salt shared by all accounts.
// It is immutable after construction and safe for concurrent use.
type SaltedHasher struct {
	salt    string
	newHash func() hash.Hash
}

// NewSaltedHasher creates a SaltedHasher for the given algorithm.
func NewSaltedHasher(salt, algorithm string) (*SaltedHasher, error) {
	if salt == "" {
		return nil, fmt.Errorf("password salt must not be empty")
	}
	var newHash func() hash.Hash
	switch algorithm {
	case DigestSHA1, "":
		newHash = sha1.New
	case DigestSHA3256:
		newHash = sha3.New256
	default:
		return nil, fmt.Errorf("unsupported password digest: %s", algorithm)
	}
	return &SaltedHasher{salt: salt, newHash: newHash}, nil
}

// Hash returns hex(digest(plaintext + salt)).
func (h *SaltedHasher) Hash(plaintext string) string {
	d := h.newHash()
	d.Write([]byte(plaintext + h.salt))
	return hex.EncodeToString(d.Sum(nil))
}

// Verify reports whether plaintext hashes to digest.
func (h *SaltedHasher) Verify(plaintext, digest string) bool {
	return subtle.ConstantTimeCompare([]byte(h.Hash(plaintext)), []byte(digest)) == 1
}
