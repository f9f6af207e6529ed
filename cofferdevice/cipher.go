// Package cofferdevice implements an encrypted coffer.BlockDevice backed by
// a plain ReadWriterAt, such as an *os.File.
package cofferdevice

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/coffer-fs/coffer"
)

// CipherEngine seals and opens fixed plaintext pages using an AEAD scheme.
type CipherEngine interface {
	Seal(nonce, aad, plaintext []byte) []byte
	Open(nonce, aad, ciphertext []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

type aeadEngine struct {
	aead cipher.AEAD
}

func (e *aeadEngine) Seal(nonce, aad, plaintext []byte) []byte {
	return e.aead.Seal(nil, nonce, plaintext, aad)
}

func (e *aeadEngine) Open(nonce, aad, ciphertext []byte) ([]byte, error) {
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, &coffer.AuthenticationError{Reason: "page authentication tag mismatch"}
	}
	return plaintext, nil
}

func (e *aeadEngine) NonceSize() int {
	return e.aead.NonceSize()
}

func (e *aeadEngine) Overhead() int {
	return e.aead.Overhead()
}

// NewAESGCMEngine builds a CipherEngine using AES-256-GCM. key must be 32 bytes.
func NewAESGCMEngine(key []byte) (CipherEngine, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cofferdevice: AES-256-GCM requires a 32-byte key, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cofferdevice: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cofferdevice: %w", err)
	}
	return &aeadEngine{aead: aead}, nil
}

// NewChaCha20Poly1305Engine builds a CipherEngine using ChaCha20-Poly1305.
// key must be chacha20poly1305.KeySize bytes.
func NewChaCha20Poly1305Engine(key []byte) (CipherEngine, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("cofferdevice: ChaCha20-Poly1305 requires a %d-byte key, got %d",
			chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cofferdevice: %w", err)
	}
	return &aeadEngine{aead: aead}, nil
}

// NewCipherEngine builds the CipherEngine named by id using key.
func NewCipherEngine(id coffer.CipherID, key []byte) (CipherEngine, error) {
	switch id {
	case coffer.CipherAES256GCM:
		return NewAESGCMEngine(key)
	case coffer.CipherChaCha20Poly1305:
		return NewChaCha20Poly1305Engine(key)
	default:
		return nil, fmt.Errorf("cofferdevice: unsupported cipher id %v", id)
	}
}

// GenerateNonce returns a fresh random nonce of size n.
func GenerateNonce(n int) ([]byte, error) {
	nonce := make([]byte, n)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cofferdevice: generate nonce: %w", err)
	}
	return nonce, nil
}
