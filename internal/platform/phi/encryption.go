// Package phi encrypts protected health information at rest.
package phi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// FieldEncryptor encrypts single column values. Repositories accept a nil
// FieldEncryptor and then store plaintext.
type FieldEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Encryptor is AES-256-GCM with the nonce prepended to the ciphertext.
type Encryptor struct {
	aead cipher.AEAD
}

func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("phi encryptor: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("phi encryptor: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi encryptor: create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// FromHex builds an encryptor from a 64 character hex key. An empty key
// disables encryption and returns nil.
func FromHex(key string) (FieldEncryptor, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	enc, err := NewEncryptor(raw)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("phi encrypt: generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("phi decrypt: base64 decode: %w", err)
	}
	n := e.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("phi decrypt: ciphertext too short")
	}
	plaintext, err := e.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("phi decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Seal encrypts *v in place. Nil and empty values are left alone.
func Seal(enc FieldEncryptor, v **string) error {
	if enc == nil || *v == nil || **v == "" {
		return nil
	}
	s, err := enc.Encrypt(**v)
	if err != nil {
		return err
	}
	*v = &s
	return nil
}

// Open decrypts *v in place. Nil and empty values are left alone.
func Open(enc FieldEncryptor, v **string) error {
	if enc == nil || *v == nil || **v == "" {
		return nil
	}
	s, err := enc.Decrypt(**v)
	if err != nil {
		return err
	}
	*v = &s
	return nil
}
