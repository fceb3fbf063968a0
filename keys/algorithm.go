package keys

import (
	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"xdao.co/equinox/fault"
)

// AlgorithmSetVersion versions the closed set of parameter sets below. Adding
// or removing a set bumps it.
const AlgorithmSetVersion = 1

// Algorithm names a post-quantum signature parameter set.
type Algorithm string

const (
	MLDSA44 Algorithm = "ML-DSA-44"
	MLDSA65 Algorithm = "ML-DSA-65"
	MLDSA87 Algorithm = "ML-DSA-87"
)

// DefaultAlgorithm is used when callers do not choose one.
const DefaultAlgorithm = MLDSA65

// Spec fixes the byte lengths and declared security level of an algorithm.
type Spec struct {
	Algorithm     Algorithm
	PublicKeySize int
	SecretKeySize int
	SignatureSize int
	// SecurityLevel is the classical-equivalent strength in bits.
	SecurityLevel int

	scheme sign.Scheme
}

var specs = []Spec{
	{Algorithm: MLDSA44, PublicKeySize: 1312, SecretKeySize: 2560, SignatureSize: 2420, SecurityLevel: 128, scheme: mldsa44.Scheme()},
	{Algorithm: MLDSA65, PublicKeySize: 1952, SecretKeySize: 4032, SignatureSize: 3309, SecurityLevel: 192, scheme: mldsa65.Scheme()},
	{Algorithm: MLDSA87, PublicKeySize: 2592, SecretKeySize: 4896, SignatureSize: 4627, SecurityLevel: 256, scheme: mldsa87.Scheme()},
}

// Algorithms lists the supported algorithms, weakest first.
func Algorithms() []Algorithm {
	out := make([]Algorithm, len(specs))
	for i, s := range specs {
		out[i] = s.Algorithm
	}
	return out
}

// Lookup returns the Spec for a, or an UnsupportedAlgorithm error.
func Lookup(a Algorithm) (Spec, error) {
	for _, s := range specs {
		if s.Algorithm == a {
			return s, nil
		}
	}
	return Spec{}, fault.New(fault.KindUnsupportedAlgorithm, "EQX-KEYS-001", "unsupported algorithm: "+string(a))
}

// ParseAlgorithm is Lookup over a string name.
func ParseAlgorithm(name string) (Algorithm, error) {
	s, err := Lookup(Algorithm(name))
	if err != nil {
		return "", err
	}
	return s.Algorithm, nil
}

// AlgorithmForPublicKey infers the algorithm from a public key length.
func AlgorithmForPublicKey(pk []byte) (Algorithm, bool) {
	for _, s := range specs {
		if len(pk) == s.PublicKeySize {
			return s.Algorithm, true
		}
	}
	return "", false
}

// SecurityLevel returns the declared strength of a in bits, or 0 if unknown.
func (a Algorithm) SecurityLevel() int {
	s, err := Lookup(a)
	if err != nil {
		return 0
	}
	return s.SecurityLevel
}

// Meets reports whether a declares at least minBits of security.
func (a Algorithm) Meets(minBits int) bool {
	lvl := a.SecurityLevel()
	return lvl > 0 && lvl >= minBits
}

func (a Algorithm) String() string { return string(a) }

// Usage is what a key may be used for.
type Usage string

const (
	UsageSigning    Usage = "signing"
	UsageEncryption Usage = "encryption"
	UsageBoth       Usage = "both"
)

// ParseUsage validates a usage name.
func ParseUsage(s string) (Usage, error) {
	switch u := Usage(s); u {
	case UsageSigning, UsageEncryption, UsageBoth:
		return u, nil
	default:
		return "", fault.New(fault.KindInvalidFormat, "EQX-KEYS-002", "unknown key usage: "+s)
	}
}

// Status is a key's lifecycle state. Keys only move Active -> Archived.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)
