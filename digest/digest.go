// Package digest holds the hashing and authenticated-encryption primitives used
// by the rest of equinox.
//
// Every digest in the system is SHA3-256 and is rendered at API boundaries as
// 64 lowercase hex characters.
package digest

import (
	"encoding/hex"
	"hash"
	"strings"

	"golang.org/x/crypto/sha3"

	"xdao.co/equinox/fault"
)

// Size is the digest length in bytes.
const Size = 32

// HexSize is the length of a hex-encoded digest.
const HexSize = 2 * Size

// Algorithm is the identifier recorded in statements and CIDs.
const Algorithm = "sha3-256"

// Digest is a SHA3-256 output.
type Digest [Size]byte

// Sum returns SHA3-256(data).
func Sum(data []byte) Digest {
	return Digest(sha3.Sum256(data))
}

// SumParts returns SHA3-256 over the concatenation of parts without building it.
func SumParts(parts ...[]byte) Digest {
	h := sha3.New256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out Digest
	h.Sum(out[:0])
	return out
}

// New returns a streaming SHA3-256 hash.
func New() hash.Hash {
	return sha3.New256()
}

// Keccak256 returns the legacy Keccak-256 digest used for secp256k1 addresses.
func Keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum(nil)
}

// Hex returns the canonical lowercase hex encoding.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

func (d Digest) String() string { return d.Hex() }

// Bytes returns a copy of the digest bytes.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// ParseHex decodes a canonical digest string.
//
// Only exactly 64 lowercase hex characters are accepted; anything else is an
// InvalidFormat error.
func ParseHex(s string) (Digest, error) {
	var d Digest
	if len(s) != HexSize {
		return d, fault.New(fault.KindInvalidFormat, "EQX-DIGEST-001", "digest hex must be 64 characters")
	}
	if strings.ToLower(s) != s {
		return d, fault.New(fault.KindInvalidFormat, "EQX-DIGEST-002", "digest hex must be lowercase")
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Digest{}, fault.Wrap(fault.KindInvalidFormat, "EQX-DIGEST-003", "invalid digest hex", err)
	}
	return d, nil
}

// FromBytes copies a 32-byte slice into a Digest.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, fault.New(fault.KindInvalidFormat, "EQX-DIGEST-004", "digest must be 32 bytes")
	}
	copy(d[:], b)
	return d, nil
}

// DecodeHex decodes arbitrary-length lowercase or uppercase hex, with an
// optional 0x prefix. Used for keys and signatures at the JSON boundary.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-DIGEST-005", "invalid hex", err)
	}
	return b, nil
}
