package digest

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"xdao.co/equinox/fault"
)

// Sizes of the password envelope fields.
const (
	SaltSize  = 16
	NonceSize = chacha20poly1305.NonceSize
	TagSize   = chacha20poly1305.Overhead
	KeySize   = chacha20poly1305.KeySize
)

// Argon2id work factors. These are part of the export format: changing them
// makes previously exported blobs unreadable.
const (
	KDFTime    uint32 = 3
	KDFMemory  uint32 = 64 * 1024 // KiB
	KDFThreads uint8  = 4
)

// DeriveKey stretches password with Argon2id under salt into a cipher key.
// The caller owns the returned slice and should Wipe it.
func DeriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, KDFTime, KDFMemory, KDFThreads, KeySize)
}

// Seal encrypts plaintext with ChaCha20-Poly1305 and appends the ciphertext and
// tag to dst.
func Seal(dst, key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "EQX-AEAD-001", "cipher init failed", err)
	}
	if len(nonce) != NonceSize {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-AEAD-002", "nonce must be 12 bytes")
	}
	return aead.Seal(dst, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext||tag. Authentication and
// decryption are a single step; no plaintext is returned on failure.
func Open(key, nonce, sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "EQX-AEAD-001", "cipher init failed", err)
	}
	if len(nonce) != NonceSize {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-AEAD-002", "nonce must be 12 bytes")
	}
	pt, err := aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fault.New(fault.KindDecryption, "EQX-AEAD-003", "decryption failed")
	}
	return pt, nil
}

// RandomBytes reads n bytes from r, or crypto/rand when r is nil.
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fault.Wrap(fault.KindInternal, "EQX-RAND-001", "entropy source failed", err)
	}
	return b, nil
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
