package keys

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"xdao.co/equinox/fault"
)

// SeedSize is the length of root and derived seeds.
const SeedSize = 32

// CheckLabel validates a derivation label (user id, role, purpose).
func CheckLabel(label string) error {
	if label == "" {
		return errors.New("label cannot be empty")
	}
	for _, char := range label {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' || char == '.' || char == '@' {
			continue
		}
		return fmt.Errorf("invalid character %q in label", char)
	}
	return nil
}

// DeriveSeed deterministically derives a purpose-specific seed from a root
// seed. Different (purpose, label) pairs give independent seeds.
func DeriveSeed(rootSeed []byte, purpose, label string) ([]byte, error) {
	if len(rootSeed) != SeedSize {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-KEYS-020", fmt.Sprintf("root seed must be %d bytes", SeedSize))
	}
	if err := CheckLabel(purpose); err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-KEYS-021", "invalid purpose", err)
	}
	if err := CheckLabel(label); err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-KEYS-021", "invalid label", err)
	}

	h := sha256.New()
	_, _ = h.Write(rootSeed)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("equinox-keys-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(purpose))
	_, _ = h.Write([]byte(":"))
	_, _ = h.Write([]byte(label))
	return h.Sum(nil), nil
}

// DeriveKeyPair deterministically builds an ML-DSA key pair from a 32-byte
// seed. Intended for reproducible fixtures; production keys come from a Store.
func DeriveKeyPair(alg Algorithm, seed []byte) (publicKey, secretKey []byte, err error) {
	spec, err := Lookup(alg)
	if err != nil {
		return nil, nil, err
	}
	if len(seed) != spec.scheme.SeedSize() {
		return nil, nil, fault.New(fault.KindInvalidFormat, "EQX-KEYS-022", fmt.Sprintf("seed must be %d bytes", spec.scheme.SeedSize()))
	}
	return fromSeed(spec, seed)
}

// Sign signs data with a secret key produced by DeriveKeyPair.
func Sign(alg Algorithm, secretKey, data []byte) ([]byte, error) {
	spec, err := Lookup(alg)
	if err != nil {
		return nil, err
	}
	if len(secretKey) != spec.SecretKeySize {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-KEYS-014", "secret key has the wrong length")
	}
	return signWith(spec, secretKey, data)
}
