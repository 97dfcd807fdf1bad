// Package cryptobox provides the authenticated encryption used for every
// chunk and relay payload, plus the two key sourcing paths.
package cryptobox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"packshare/pkg/types"
	"packshare/pkg/utils"
)

const (
	// KeySize is the only accepted key length
	KeySize   = chacha20poly1305.KeySize
	nonceSize = chacha20poly1305.NonceSize
)

var (
	ErrInvalidKeyLength = errors.New("key must be 32 bytes")
	ErrMalformedInput   = errors.New("ciphertext shorter than nonce")
	ErrDecryptionFailed = errors.New("decryption failed: authentication error")
)

// Encrypt seals data under key with a fresh random nonce and returns nonce || ciphertext
func Encrypt(data, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}

	out := make([]byte, nonceSize, nonceSize+len(data)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(out, out[:nonceSize], data, nil), nil
}

// Decrypt opens a nonce || ciphertext blob. Nothing is returned on failure.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeyLength
	}
	if len(blob) < nonceSize {
		return nil, ErrMalformedInput
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString encrypts data and encodes the blob as standard base64 for text channels
func EncryptString(data, key []byte) (string, error) {
	blob, err := Encrypt(data, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptString reverses EncryptString
func DecryptString(encoded string, key []byte) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return Decrypt(blob, key)
}

// GenerateKey returns a fresh random 32-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// EncodeKey renders a key for embedding in a descriptor (base64url, no padding)
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// DecodeKey parses a descriptor key and checks its length
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid encryption key encoding: %v", types.ErrValidation, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, ErrInvalidKeyLength)
	}
	return key, nil
}

// DeriveKey turns arbitrary key material into a 32-byte key. Material of at
// least 32 bytes is truncated, shorter material is hashed with SHA-256.
func DeriveKey(material []byte) []byte {
	key := make([]byte, KeySize)
	if len(material) >= KeySize {
		copy(key, material[:KeySize])
		return key
	}
	sum := sha256.Sum256(material)
	copy(key, sum[:])
	return key
}

// DeriveKeyFromCode regenerates the relay key from a share code alone
func DeriveKeyFromCode(code string) ([]byte, error) {
	cleaned := utils.SanitizeCode(code)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty share code", types.ErrValidation)
	}
	material, err := base64.RawURLEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid share code: %v", types.ErrValidation, err)
	}
	return DeriveKey(material), nil
}
