package hybrid

import (
	"bytes"
	"encoding/hex"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/keys"
)

// ClassicalSignatureSize is the length of a recoverable compact secp256k1
// signature.
const ClassicalSignatureSize = 65

// AddressSize is the length of a raw signer address.
const AddressSize = 20

// ClassicalKey is the secp256k1 identity that produces the classical half of
// a hybrid signature.
type ClassicalKey struct {
	priv    *secp256k1.PrivateKey
	address string
}

func newClassicalKey(priv *secp256k1.PrivateKey) (*ClassicalKey, error) {
	if priv.Key.IsZero() {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-HYBRID-001", "secp256k1 key is zero")
	}
	return &ClassicalKey{priv: priv, address: AddressFromPublicKey(priv.PubKey())}, nil
}

// GenerateClassicalKey returns a random key. A nil reader means crypto/rand.
func GenerateClassicalKey(r io.Reader) (*ClassicalKey, error) {
	var (
		priv *secp256k1.PrivateKey
		err  error
	)
	if r == nil {
		priv, err = secp256k1.GeneratePrivateKey()
	} else {
		priv, err = secp256k1.GeneratePrivateKeyFromRand(r)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "EQX-RAND-001", "entropy source failed", err)
	}
	return newClassicalKey(priv)
}

// ClassicalKeyFromBytes parses a 32-byte secret scalar.
func ClassicalKeyFromBytes(b []byte) (*ClassicalKey, error) {
	if len(b) != secp256k1.PrivKeyBytesLen {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-HYBRID-002", "secp256k1 key must be 32 bytes")
	}
	return newClassicalKey(secp256k1.PrivKeyFromBytes(b))
}

// DeriveClassicalKey deterministically derives a user's key from a root seed.
func DeriveClassicalKey(rootSeed []byte, userID string) (*ClassicalKey, error) {
	seed, err := keys.DeriveSeed(rootSeed, "user", userID)
	if err != nil {
		return nil, err
	}
	defer digest.Wipe(seed)
	return ClassicalKeyFromBytes(seed)
}

// Address returns the EIP-55 checksummed address.
func (k *ClassicalKey) Address() string { return k.address }

// Bytes returns the secret scalar. The caller owns and should wipe it.
func (k *ClassicalKey) Bytes() []byte { return k.priv.Serialize() }

// Zero wipes the secret scalar.
func (k *ClassicalKey) Zero() { k.priv.Zero() }

// sign produces a 65-byte recoverable signature over a 32-byte hash.
func (k *ClassicalKey) sign(hash []byte) []byte {
	return ecdsa.SignCompact(k.priv, hash, false)
}

// AddressFromPublicKey is keccak256(uncompressed point without prefix)[12:],
// checksummed.
func AddressFromPublicKey(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	h := digest.Keccak256(uncompressed[1:])
	return ChecksumAddress(h[12:])
}

// ChecksumAddress renders a 20-byte address with the EIP-55 mixed-case
// checksum.
func ChecksumAddress(addr []byte) string {
	lower := hex.EncodeToString(addr)
	h := digest.Keccak256([]byte(lower))
	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := h[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}

// ParseAddress decodes a 0x-prefixed 20-byte address. Mixed-case input must
// carry a valid checksum; all-lower or all-upper input is accepted as is.
func ParseAddress(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") || len(s) != 2+2*AddressSize {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-HYBRID-003", "address must be 0x followed by 40 hex characters")
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-HYBRID-003", "invalid address hex", err)
	}
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && ChecksumAddress(b) != s {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-HYBRID-004", "address checksum mismatch")
	}
	return b, nil
}

// RecoverAddress returns the address that produced a compact signature over
// hash.
func RecoverAddress(hash, sig []byte) (string, error) {
	if len(sig) != ClassicalSignatureSize {
		return "", fault.New(fault.KindInvalidFormat, "EQX-HYBRID-005", "classical signature must be 65 bytes")
	}
	pub, _, err := ecdsa.RecoverCompact(sig, hash)
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidFormat, "EQX-HYBRID-006", "classical signature recovery failed", err)
	}
	return AddressFromPublicKey(pub), nil
}

// sameAddress compares two addresses by their bytes.
func sameAddress(a, b string) bool {
	ab, err := ParseAddress(a)
	if err != nil {
		return false
	}
	bb, err := ParseAddress(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
