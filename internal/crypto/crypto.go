// Package crypto provides the authenticated encryption envelope used
// to persist vault snapshots, plus a peppered secret hash for
// login-style verification independent of vault encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/dmagur/passlock/internal/kdf"
)

const (
	// SaltSize is the per-envelope salt length in bytes.
	SaltSize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
)

// ErrDecryptionFailed is returned on any open failure: wrong secret,
// corrupted ciphertext, or a malformed payload after decryption. The
// cases are deliberately indistinguishable to avoid oracle behavior.
var ErrDecryptionFailed = errors.New("invalid secret or corrupted vault")

// Envelope is the self-describing encrypted container written to
// storage and backups. Iterations records the work factor the
// envelope was sealed with, so the canonical default can change
// without breaking old data; zero means the legacy default.
type Envelope struct {
	Ciphertext string `json:"ciphertext"`
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Iterations int    `json:"iterations"`
}

// secretHashPrefix tags the algorithm of stored secret hashes.
const secretHashPrefix = "b3k"

// hashPepper keys the BLAKE3 secret hash. Fixed application-wide
// constant, distinct from the KDF pepper.
var hashPepper = [32]byte{
	'p', 'a', 's', 's', 'l', 'o', 'c', 'k', '.', 'a', 'u', 't', 'h', '.',
	'p', 'e', 'p', 'p', 'e', 'r', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Seal encrypts plaintext under a key derived from secret. Every call
// generates a fresh random salt and nonce; neither is ever reused.
// The returned envelope carries everything Open needs apart from the
// secret itself.
func Seal(plaintext, secret []byte) (Envelope, error) {
	return sealWithWorkFactor(plaintext, secret, kdf.DefaultWorkFactor)
}

func sealWithWorkFactor(plaintext, secret []byte, workFactor int) (Envelope, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Envelope{}, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	key := kdf.Derive(secret, salt, workFactor)
	gcm, err := newGCM(key)
	if err != nil {
		return Envelope{}, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return Envelope{
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		Iterations: workFactor,
	}, nil
}

// Open re-derives the key from the envelope's own salt and work
// factor and attempts authenticated decryption. Envelopes sealed
// before the iterations field existed carry zero and are opened with
// the legacy work factor.
func Open(env Envelope, secret []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(nonce) != NonceSize {
		return nil, ErrDecryptionFailed
	}

	workFactor := env.Iterations
	if workFactor == 0 {
		workFactor = kdf.LegacyWorkFactor
	}

	key := kdf.Derive(secret, salt, workFactor)
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// SealObject serializes v as JSON and seals the result.
func SealObject(v any, secret []byte) (Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal object: %w", err)
	}
	return Seal(plaintext, secret)
}

// OpenObject opens the envelope and parses the plaintext into v. A
// parse failure after successful decryption also reports
// ErrDecryptionFailed; it cannot occur when SealObject produced the
// envelope.
func OpenObject(env Envelope, secret []byte, v any) error {
	plaintext, err := Open(env, secret)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return ErrDecryptionFailed
	}
	return nil
}

// HashSecret computes a peppered BLAKE3 keyed hash of secret with a
// fresh random salt, for verifying a login-style secret without
// involving vault encryption. The result is "b3k$<salt>$<hash>" with
// base64url fields.
func HashSecret(secret []byte) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest, err := keyedHash(secret, salt)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{
		secretHashPrefix,
		base64.RawURLEncoding.EncodeToString(salt),
		base64.RawURLEncoding.EncodeToString(digest),
	}, "$"), nil
}

// VerifySecret recomputes the stored hash and compares in constant
// time, so a mismatch costs the same wherever it occurs.
func VerifySecret(secret []byte, stored string) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 3 || parts[0] != secretHashPrefix {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	got, err := keyedHash(secret, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

func keyedHash(secret, salt []byte) ([]byte, error) {
	hasher, err := blake3.NewKeyed(hashPepper[:])
	if err != nil {
		return nil, fmt.Errorf("create keyed hasher: %w", err)
	}
	hasher.Write(salt)
	hasher.Write(secret)
	return hasher.Sum(nil), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return gcm, nil
}

// ClearBytes zeroes a byte slice holding sensitive material.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
