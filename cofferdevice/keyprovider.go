package cofferdevice

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF names the password-based key derivation function protecting a device's
// page-encryption key.
type KDF int

const (
	// KDFArgon2id is the default: memory-hard, resistant to GPU/ASIC attack.
	KDFArgon2id KDF = iota
	// KDFPBKDF2 is offered for containers created by tooling that cannot
	// link Argon2id.
	KDFPBKDF2
)

// Argon2idParams tunes the Argon2id derivation. Zero values take the
// defaults below.
type Argon2idParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

func (p Argon2idParams) withDefaults() Argon2idParams {
	if p.Memory == 0 {
		p.Memory = 64 * 1024
	}
	if p.Iterations == 0 {
		p.Iterations = 3
	}
	if p.Parallelism == 0 {
		p.Parallelism = 4
	}
	return p
}

// PBKDF2Params tunes the PBKDF2 derivation. Zero values take the defaults
// below.
type PBKDF2Params struct {
	Iterations int
}

func (p PBKDF2Params) withDefaults() PBKDF2Params {
	if p.Iterations == 0 {
		p.Iterations = 200000
	}
	return p
}

const saltSize = 32
const derivedKeySize = 32

// deriveKey derives a 32-byte page-encryption key from password and salt
// using the named KDF.
func deriveKey(kdf KDF, password, salt []byte, argon2p Argon2idParams, pbkdf2p PBKDF2Params) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("cofferdevice: password cannot be empty")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("cofferdevice: salt must be %d bytes, got %d", saltSize, len(salt))
	}
	switch kdf {
	case KDFArgon2id:
		p := argon2p.withDefaults()
		return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, derivedKeySize), nil
	case KDFPBKDF2:
		p := pbkdf2p.withDefaults()
		return pbkdf2.Key(password, salt, p.Iterations, derivedKeySize, sha256.New), nil
	default:
		return nil, fmt.Errorf("cofferdevice: unsupported key derivation function %v", kdf)
	}
}

// generateSalt returns a fresh random salt for deriveKey.
func generateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cofferdevice: generate salt: %w", err)
	}
	return salt, nil
}
