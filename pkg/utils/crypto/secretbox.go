// Package crypto provides the secret sealing scheme used for credentials in
// configuration files. Values are AES-256-GCM sealed with a master key so that
// SMTP and provider passwords never appear in plaintext on disk.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks config values that carry a sealed secret. Values without
// the prefix are treated as plaintext.
const sealedPrefix = "sealed:"

// SecretBox seals and unseals short secrets with a master key.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives a 256-bit key from the master key material and returns
// a ready-to-use box. The master key may be any non-empty string; it is
// normalized through SHA-256 the same way regardless of length.
func NewSecretBox(masterKey string) (*SecretBox, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key cannot be empty")
	}

	key := sha256.Sum256([]byte(masterKey))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &SecretBox{aead: aead}, nil
}

// Seal encrypts a plaintext secret and returns its sealed textual form.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal decrypts a sealed value. Plaintext values (no "sealed:" prefix) are
// returned unchanged so configs can mix sealed and unsealed fields.
func (b *SecretBox) Unseal(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	if len(raw) < b.aead.NonceSize() {
		return "", fmt.Errorf("sealed value too short")
	}

	nonce, ciphertext := raw[:b.aead.NonceSize()], raw[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("unseal value: %w", err)
	}
	return string(plaintext), nil
}

// IsSealed reports whether a config value carries a sealed secret.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
