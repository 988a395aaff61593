// Package seal encrypts biometric templates at rest with NaCl secretbox.
package seal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	KeySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey = errors.New("seal: key must be 32 bytes")
	ErrOpen       = errors.New("seal: ciphertext could not be authenticated")
)

// Sealer encrypts and authenticates templates with a single symmetric key.
type Sealer struct {
	key [KeySize]byte
}

// New builds a Sealer from a raw 32-byte key.
func New(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// NewFromHex builds a Sealer from a 64-character hex key, as stored in configuration.
func NewFromHex(hexKey string) (*Sealer, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("seal: decode key: %w", err)
	}
	return New(key)
}

// Seal returns nonce || secretbox(plaintext). Empty input stays empty.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrOpen
	}
	return out, nil
}
