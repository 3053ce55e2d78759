// Package crypto seals secret values at rest. Each project gets its own
// AES-256 key derived from the service root key with HKDF-SHA256, so a
// leaked project key never exposes another project's secrets.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// GenerateRootKey generates a 32-byte cryptographically secure random root key.
func GenerateRootKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating root key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a 32-byte subkey from the root key using HKDF-SHA256
// with the given context string.
func DeriveKey(rootKey []byte, context string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, rootKey, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}
	return key, nil
}

// EncryptAESGCM encrypts plaintext with AES-256-GCM. Returns ciphertext and nonce separately.
func EncryptAESGCM(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptAESGCM decrypts AES-256-GCM ciphertext.
func DecryptAESGCM(ciphertext, nonce, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

// Sealer seals and opens secret values with per-project derived keys.
type Sealer struct {
	rootKey []byte
}

// NewSealer creates a Sealer from a 32-byte root key.
func NewSealer(rootKey []byte) (*Sealer, error) {
	if len(rootKey) != 32 {
		return nil, errors.New("root key must be 32 bytes")
	}
	cp := make([]byte, 32)
	copy(cp, rootKey)
	return &Sealer{rootKey: cp}, nil
}

func (s *Sealer) projectKey(projectID string) ([]byte, error) {
	return DeriveKey(s.rootKey, "secretplane:project:"+projectID)
}

// Seal encrypts a secret value under the project's derived key.
func (s *Sealer) Seal(projectID string, plaintext []byte) (ciphertext, nonce []byte, err error) {
	key, err := s.projectKey(projectID)
	if err != nil {
		return nil, nil, err
	}
	defer zeroBytes(key)
	return EncryptAESGCM(plaintext, key)
}

// Open decrypts a sealed secret value.
func (s *Sealer) Open(projectID string, ciphertext, nonce []byte) ([]byte, error) {
	key, err := s.projectKey(projectID)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)
	return DecryptAESGCM(ciphertext, nonce, key)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
