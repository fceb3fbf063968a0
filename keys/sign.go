package keys

import (
	"io"

	"github.com/cloudflare/circl/sign"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
)

// generate returns a fresh (public, secret) pair for spec, reading the seed
// from rand.
func generate(spec Spec, rand io.Reader) (pk, sk []byte, err error) {
	seed, err := digest.RandomBytes(rand, spec.scheme.SeedSize())
	if err != nil {
		return nil, nil, err
	}
	defer digest.Wipe(seed)
	return fromSeed(spec, seed)
}

func fromSeed(spec Spec, seed []byte) (pk, sk []byte, err error) {
	pub, priv := spec.scheme.DeriveKey(seed)
	pk, err = pub.MarshalBinary()
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindInternal, "EQX-KEYS-010", "public key encoding failed", err)
	}
	sk, err = priv.MarshalBinary()
	if err != nil {
		return nil, nil, fault.Wrap(fault.KindInternal, "EQX-KEYS-011", "secret key encoding failed", err)
	}
	return pk, sk, nil
}

// signWith signs data with a serialized secret key.
func signWith(spec Spec, sk, data []byte) ([]byte, error) {
	priv, err := spec.scheme.UnmarshalBinaryPrivateKey(sk)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-KEYS-012", "invalid secret key", err)
	}
	return spec.scheme.Sign(priv, data, nil), nil
}

// publicFromSecret re-derives the public key bytes embedded in sk.
func publicFromSecret(spec Spec, sk []byte) ([]byte, error) {
	priv, err := spec.scheme.UnmarshalBinaryPrivateKey(sk)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-KEYS-012", "invalid secret key", err)
	}
	pub, ok := priv.Public().(sign.PublicKey)
	if !ok {
		return nil, fault.New(fault.KindInternal, "EQX-KEYS-013", "unexpected public key type")
	}
	pk, err := pub.MarshalBinary()
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "EQX-KEYS-010", "public key encoding failed", err)
	}
	return pk, nil
}

// VerifySignature checks signature over data against publicKey, inferring the
// algorithm from the key length. Malformed input returns false.
func VerifySignature(data, signature, publicKey []byte) bool {
	alg, ok := AlgorithmForPublicKey(publicKey)
	if !ok {
		return false
	}
	return VerifySignatureWith(alg, data, signature, publicKey)
}

// VerifySignatureWith is VerifySignature for an explicit algorithm.
func VerifySignatureWith(alg Algorithm, data, signature, publicKey []byte) bool {
	spec, err := Lookup(alg)
	if err != nil {
		return false
	}
	if len(publicKey) != spec.PublicKeySize || len(signature) != spec.SignatureSize {
		return false
	}
	pub, err := spec.scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return false
	}
	return spec.scheme.Verify(pub, data, signature, nil)
}
