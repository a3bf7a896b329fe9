package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// MasterKeyEnv names the environment variable holding the master key when no
// key file is configured.
const MasterKeyEnv = "IAM_MASTER_KEY"

const sealerInfo = "iam signing key encryption v1"

// ErrCiphertextTooShort is returned for input that cannot contain a nonce.
var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// Sealer encrypts signing key material at rest with AES-256-GCM. The AES key
// is derived from the master key material with HKDF-SHA256.
//
// Ciphertext layout: [12-byte nonce][ciphertext][16-byte tag]. The kid is
// bound as additional data so a row cannot be swapped onto another key id.
type Sealer struct {
	aead      cipher.AEAD
	ephemeral bool
}

// NewSealer derives a Sealer from raw master key material.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) == 0 {
		return nil, errors.New("cryptox: empty master key")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(sealerInfo)), key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// LoadSealer reads master key material from path, falling back to
// IAM_MASTER_KEY. With neither set it returns an ephemeral sealer whose
// ciphertexts do not survive a restart.
func LoadSealer(path string) (*Sealer, error) {
	var material []byte
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cryptox: read master key file: %w", err)
		}
		material = []byte(strings.TrimSpace(string(data)))
	case os.Getenv(MasterKeyEnv) != "":
		material = []byte(os.Getenv(MasterKeyEnv))
	default:
		secret, err := GenerateSecret(32)
		if err != nil {
			return nil, err
		}
		s, err := NewSealer(secret)
		if err != nil {
			return nil, err
		}
		s.ephemeral = true
		return s, nil
	}
	return NewSealer(material)
}

// Ephemeral reports whether the master key was generated for this process.
func (s *Sealer) Ephemeral() bool { return s.ephemeral }

// Seal encrypts plaintext bound to kid.
func (s *Sealer) Seal(kid string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(kid)), nil
}

// Open decrypts data produced by Seal for the same kid.
func (s *Sealer) Open(kid string, data []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := s.aead.Open(nil, data[:n], data[n:], []byte(kid))
	if err != nil {
		return nil, fmt.Errorf("cryptox: decryption failed: %w", err)
	}
	return plaintext, nil
}
