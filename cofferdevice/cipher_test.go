package cofferdevice

import (
	"bytes"
	"testing"

	"github.com/coffer-fs/coffer"
)

func TestAESGCMEngineRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	e, err := NewAESGCMEngine(key)
	if err != nil {
		t.Fatalf("NewAESGCMEngine: %v", err)
	}
	nonce, err := GenerateNonce(e.NonceSize())
	if err != nil {
		t.Fatalf("GenerateNonce: %v", err)
	}
	plaintext := []byte("hold the line")
	ciphertext := e.Seal(nonce, []byte("aad"), plaintext)
	got, err := e.Open(nonce, []byte("aad"), ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("got %q, want %q", got, plaintext)
	}
}

func TestAESGCMEngineRejectsTamperedAAD(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, 32)
	e, _ := NewAESGCMEngine(key)
	nonce, _ := GenerateNonce(e.NonceSize())
	ciphertext := e.Seal(nonce, []byte("page-0"), []byte("secret"))
	if _, err := e.Open(nonce, []byte("page-1"), ciphertext); err == nil {
		t.Fatalf("Open with mismatched AAD should fail")
	}
}

func TestChaCha20Poly1305EngineRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 32)
	e, err := NewChaCha20Poly1305Engine(key)
	if err != nil {
		t.Fatalf("NewChaCha20Poly1305Engine: %v", err)
	}
	nonce, _ := GenerateNonce(e.NonceSize())
	ciphertext := e.Seal(nonce, nil, []byte("chacha payload"))
	got, err := e.Open(nonce, nil, ciphertext)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(got) != "chacha payload" {
		t.Fatalf("got %q", got)
	}
}

func TestNewCipherEngineUnsupported(t *testing.T) {
	if _, err := NewCipherEngine(coffer.CipherNone, bytes.Repeat([]byte{0}, 32)); err == nil {
		t.Fatalf("NewCipherEngine(CipherNone) should fail")
	}
}
