// Package vault seals user API keys at rest with AES-256-GCM.
//
// The key is supplied once at boot. Sealed values are base64(nonce || ciphertext)
// and a fresh nonce is drawn per call, so sealing the same value twice yields
// different output.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the required length of the decoded encryption key.
const KeySize = 32

// ErrDecryption matches every DecryptionError via errors.Is.
var ErrDecryption = errors.New("vault: decryption failed")

// DecryptionError means a sealed value could not be opened with the
// configured key: wrong key, tampering or a malformed value.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("vault: cannot unseal value: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Vault seals and unseals secrets. It holds no plaintext.
type Vault struct {
	gcm cipher.AEAD
}

// New builds a vault from a key given as 32 raw bytes or as standard or
// URL-safe base64 of 32 bytes.
func New(key string) (*Vault, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create GCM: %w", err)
	}
	return &Vault{gcm: gcm}, nil
}

func decodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("vault: encryption key is not set")
	}
	if len(key) == KeySize {
		return []byte(key), nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if raw, err := enc.DecodeString(key); err == nil && len(raw) == KeySize {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("vault: encryption key must be %d bytes (raw or base64)", KeySize)
}

// Seal encrypts plaintext. Empty input is rejected.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("vault: nothing to seal")
	}
	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}
	sealed := v.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Unseal decrypts a value produced by Seal with the same key.
func (v *Vault) Unseal(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", &DecryptionError{Err: fmt.Errorf("decode: %w", err)}
	}
	ns := v.gcm.NonceSize()
	if len(data) < ns+v.gcm.Overhead() {
		return "", &DecryptionError{Err: errors.New("sealed value too short")}
	}
	plaintext, err := v.gcm.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	return string(plaintext), nil
}
