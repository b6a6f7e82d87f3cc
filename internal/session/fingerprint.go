package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is a content hash used for equality checks without keeping the
// content around. The zero value means "nothing recorded".
type Fingerprint string

// FingerprintOf returns the hex SHA-256 of b.
func FingerprintOf(b []byte) Fingerprint {
	sum := sha256.Sum256(b)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// FingerprintText is FingerprintOf for a string.
func FingerprintText(s string) Fingerprint {
	return FingerprintOf([]byte(s))
}

// IsZero reports whether fp is the zero Fingerprint.
func (fp Fingerprint) IsZero() bool { return fp == "" }
