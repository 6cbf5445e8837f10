// Package kdf derives AES-256 keys from a master secret using
// peppered, two-round stretched key derivation.
package kdf

import (
	"crypto/sha256"
	"crypto/sha512"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the derived key length in bytes (AES-256).
	KeySize = 32
	// SaltSize is the expected caller salt length in bytes.
	SaltSize = 32
	// DefaultWorkFactor is the canonical PBKDF2 iteration count for
	// newly sealed envelopes.
	DefaultWorkFactor = 210000
	// LegacyWorkFactor is assumed for envelopes that predate the
	// per-envelope iterations field.
	LegacyWorkFactor = 100000
)

// pepper is a fixed application-wide constant mixed into the secret
// before stretching. It is a deployment secret, not a per-user value;
// it raises the cost of precomputed-table attacks and is not a
// substitute for the per-envelope salt.
var pepper = []byte("passlock.kdf.pepper.v1")

// roundTwoSaltTag is the domain-separation constant hashed together
// with the caller salt to obtain the second round's salt. Changing it
// invalidates every existing envelope.
var roundTwoSaltTag = []byte("passlock.kdf.round2")

// Derive stretches secret into a 32-byte key. Round one runs
// PBKDF2-SHA256 over the peppered secret with the caller salt and
// work factor. Round two re-stretches the intermediate key with
// PBKDF2-SHA512 against BLAKE3(salt ‖ roundTwoSaltTag) at half the
// work factor, so a weakness in either primitive alone does not break
// the derivation while total latency stays bounded.
//
// Derive is deterministic: identical (secret, salt, workFactor)
// always yields the identical key. A wrong secret is not detectable
// here; it simply produces a key that fails AEAD authentication
// downstream.
func Derive(secret, salt []byte, workFactor int) []byte {
	if workFactor <= 0 {
		workFactor = LegacyWorkFactor
	}

	peppered := make([]byte, 0, len(secret)+len(pepper))
	peppered = append(peppered, secret...)
	peppered = append(peppered, pepper...)

	intermediate := pbkdf2.Key(peppered, salt, workFactor, KeySize, sha256.New)

	second := blake3.Sum256(append(append([]byte{}, salt...), roundTwoSaltTag...))
	return pbkdf2.Key(intermediate, second[:], workFactor/2, KeySize, sha512.New)
}
