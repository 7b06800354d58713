package util

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NewID returns a random identifier, optionally prefixed ("rs_3f2a...").
func NewID(prefix string) string {
	id := uuid.New()
	encoded := hex.EncodeToString(id[:])
	if prefix == "" {
		return encoded
	}
	return prefix + "_" + encoded
}

// ItemID identifies an entry inside a document list (trigger, strategy, goal).
func ItemID() string {
	return uuid.NewString()
}

// DeterministicID derives a stable identifier from its parts, so the same
// inputs always address the same document.
func DeterministicID(prefix string, parts ...string) string {
	hash, _ := blake2b.New(16, nil)
	_, _ = hash.Write([]byte(strings.Join(parts, "\x1f")))
	encoded := hex.EncodeToString(hash.Sum(nil))
	if prefix == "" {
		return encoded
	}
	return prefix + "_" + encoded
}
