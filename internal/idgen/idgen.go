// Package idgen generates the opaque identifiers used across the store.
package idgen

import (
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// New returns a fresh opaque 128-bit identifier rendered as a UUIDv4.
func New() string {
	return uuid.NewString()
}

// NewShort returns a compact identifier for human-visible handles
// (approval and reminder references surfaced in chat replies).
func NewShort() string {
	return shortuuid.New()
}

// Valid reports whether s parses as one of our identifiers.
func Valid(s string) bool {
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	_, err := shortuuid.DefaultEncoder.Decode(s)
	return err == nil
}
