// Package vault encrypts bot credentials at rest. With no key
// configured both operations are the identity function: a degraded but
// functional mode, not an error.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

var (
	ErrInvalidKeySize    = errors.New("invalid key size, must be 16, 24, or 32 bytes")
	ErrEncryptionFail    = errors.New("encryption failed")
	ErrInvalidCredential = errors.New("invalid credential")
)

type Vault struct {
	aead cipher.AEAD
}

// New builds a vault around an AES-GCM key. An empty key yields a
// pass-through vault that stores credentials in clear.
func New(key []byte) (*Vault, error) {
	if len(key) == 0 {
		return &Vault{}, nil
	}

	if !validKeySize(key) {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Vault{aead: gcm}, nil
}

// Passthrough reports whether credentials pass through unencrypted.
func (v *Vault) Passthrough() bool {
	return v.aead == nil
}

// Encrypt seals a plaintext credential into base64(nonce|ciphertext).
func (v *Vault) Encrypt(plain string) (string, error) {
	if v.aead == nil {
		return plain, nil
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFail
	}

	// Prepend nonce to ciphertext so Decrypt can recover it.
	sealed := v.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Anything that does not decode under the
// configured key, including a value stored in clear before the key was
// introduced, fails with ErrInvalidCredential.
func (v *Vault) Decrypt(enc string) (string, error) {
	if v.aead == nil {
		return enc, nil
	}

	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", ErrInvalidCredential
	}

	nonceSize := v.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", ErrInvalidCredential
	}

	plain, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrInvalidCredential
	}

	return string(plain), nil
}

func validKeySize(key []byte) bool {
	switch len(key) {
	case 16, 24, 32:
		return true
	default:
		return false
	}
}
