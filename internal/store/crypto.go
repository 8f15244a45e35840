package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrEncryptionKeyNotSet is returned by every credential operation when the
// store was built without an encryption key.
var ErrEncryptionKeyNotSet = errors.New("credential encryption key not set")

// ParseKey decodes a base64 AES-256 key. An empty string yields ErrEncryptionKeyNotSet.
func ParseKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrEncryptionKeyNotSet
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// sealer encrypts and decrypts credential values with AES-256-GCM.
type sealer struct {
	gcm cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if key == nil {
		return nil, nil
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &sealer{gcm: gcm}, nil
}

// seal returns base64(nonce || ciphertext || tag).
func (s *sealer) seal(plaintext string) (string, error) {
	if s == nil {
		return "", ErrEncryptionKeyNotSet
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ciphertext := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *sealer) open(encoded string) (string, error) {
	if s == nil {
		return "", ErrEncryptionKeyNotSet
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}
	return string(plaintext), nil
}

// openPtr decrypts an optional value.
func (s *sealer) openPtr(encoded *string) (*string, error) {
	if encoded == nil {
		return nil, nil
	}
	plain, err := s.open(*encoded)
	if err != nil {
		return nil, err
	}
	return &plain, nil
}
