// Package cryptoenv decrypts the "encrypted_keys" envelope that the
// credential store accepts in place of a plain Gemini API key list.
//
// Ciphertext elements carry no prefix of their own (the envelope's
// "metadata.encrypted" flag signals the whole array is encrypted); each
// element is base64(nonce || sealed) for AES-256-GCM, sealed with a key
// derived from the operator-supplied passphrase.
package cryptoenv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// DeriveKey derives a 32-byte AES-256 key from an arbitrary-length
// passphrase by hashing it with SHA-256.
func DeriveKey(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("cryptoenv: passphrase must not be empty")
	}
	sum := sha256.Sum256([]byte(passphrase))
	return sum[:], nil
}

// Encrypt seals plaintext with AES-256-GCM and returns base64(nonce||sealed).
// Used by tests and by operator tooling that produces encrypted_keys envelopes.
func Encrypt(plaintext string, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptoenv: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoenv: create gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptoenv: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a single encrypted_keys element. Decryption failure for one
// element must skip that element only (internal/credstore enforces this by
// calling Decrypt per element rather than failing the whole envelope).
func Decrypt(ciphertext string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("cryptoenv: decode base64: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptoenv: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoenv: create gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("cryptoenv: ciphertext too short")
	}
	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("cryptoenv: decrypt: %w", err)
	}
	return string(plaintext), nil
}
