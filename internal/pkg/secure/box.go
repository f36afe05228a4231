// Package secure seals small payloads at rest with NaCl secretbox.
package secure

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var (
	ErrEmptyKey   = errors.New("secure: empty key")
	ErrOpenFailed = errors.New("secure: cannot open sealed payload")
)

// Box seals and opens payloads with a key derived from a shared secret.
type Box struct {
	key [32]byte
}

// NewBox derives a 32-byte key from secret.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrEmptyKey
	}
	return &Box{key: sha256.Sum256([]byte(secret))}, nil
}

// Seal encrypts plain; the random nonce is prepended to the output.
func (b *Box) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &b.key), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrOpenFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plain, nil
}
