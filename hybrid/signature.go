package hybrid

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/fxamacker/cbor/v2"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/keys"
)

// Domain separates hybrid signatures from any other use of the same keys.
const Domain = "equinox-hybrid-v1"

// SignatureVersion is the version of the Signature wire form.
const SignatureVersion = 1

// Signature binds a classical and a post-quantum signature to the same
// payload under one nonce. Each byte field is independently length-delimited
// in both the CBOR and JSON forms.
type Signature struct {
	Version              uint32         `cbor:"version"`
	Algorithm            keys.Algorithm `cbor:"algorithm"`
	KeyID                string         `cbor:"keyId"`
	Nonce                string         `cbor:"nonce"`
	Address              string         `cbor:"address"`
	ClassicalSignature   []byte         `cbor:"classicalSignature"`
	PostQuantumSignature []byte         `cbor:"postQuantumSignature"`
	PublicKey            []byte         `cbor:"publicKey"`
}

// signedInput is
//
//	Domain || uvarint(len(alg)) || alg || SHA3-256(publicKey) ||
//	uvarint(len(nonce)) || nonce || uvarint(len(msg)) || msg
//
// Both halves of a hybrid signature cover exactly these bytes, so the
// classical signature also commits to the post-quantum key beside it.
func signedInput(alg keys.Algorithm, publicKey []byte, nonce string, msg []byte) []byte {
	keyDigest := digest.Sum(publicKey)
	out := make([]byte, 0, len(Domain)+3*binary.MaxVarintLen64+len(alg)+len(keyDigest)+len(nonce)+len(msg))
	out = append(out, Domain...)
	out = binary.AppendUvarint(out, uint64(len(alg)))
	out = append(out, string(alg)...)
	out = append(out, keyDigest[:]...)
	out = binary.AppendUvarint(out, uint64(len(nonce)))
	out = append(out, nonce...)
	out = binary.AppendUvarint(out, uint64(len(msg)))
	return append(out, msg...)
}

var (
	sigEncMode cbor.EncMode
	sigDecMode cbor.DecMode
)

func init() {
	var err error
	sigEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	sigDecMode, err = cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()
	if err != nil {
		panic(err)
	}
}

// MarshalBinary returns the deterministic CBOR wire form.
func (s *Signature) MarshalBinary() ([]byte, error) {
	b, err := sigEncMode.Marshal((*sigAlias)(s))
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "EQX-HYBRID-010", "signature encoding failed", err)
	}
	return b, nil
}

// UnmarshalBinary parses the CBOR wire form.
func (s *Signature) UnmarshalBinary(b []byte) error {
	var out sigAlias
	if err := sigDecMode.Unmarshal(b, &out); err != nil {
		return fault.Wrap(fault.KindInvalidFormat, "EQX-HYBRID-011", "malformed signature encoding", err)
	}
	*s = Signature(out)
	return nil
}

// sigAlias drops the Binary/JSON methods so the codecs see plain fields.
type sigAlias Signature

type jsonSignature struct {
	Version              uint32 `json:"version"`
	Algorithm            string `json:"algorithm"`
	KeyID                string `json:"keyId"`
	Nonce                string `json:"nonce"`
	Address              string `json:"address"`
	ClassicalSignature   string `json:"classicalSignature"`
	PostQuantumSignature string `json:"postQuantumSignature"`
	PublicKey            string `json:"publicKey"`
}

// MarshalJSON renders byte fields as 0x-prefixed hex.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonSignature{
		Version:              s.Version,
		Algorithm:            string(s.Algorithm),
		KeyID:                s.KeyID,
		Nonce:                s.Nonce,
		Address:              s.Address,
		ClassicalSignature:   "0x" + hex.EncodeToString(s.ClassicalSignature),
		PostQuantumSignature: "0x" + hex.EncodeToString(s.PostQuantumSignature),
		PublicKey:            "0x" + hex.EncodeToString(s.PublicKey),
	})
}

// UnmarshalJSON parses the hex JSON form.
func (s *Signature) UnmarshalJSON(b []byte) error {
	var j jsonSignature
	if err := json.Unmarshal(b, &j); err != nil {
		return fault.Wrap(fault.KindInvalidFormat, "EQX-HYBRID-012", "malformed signature JSON", err)
	}
	out := Signature{
		Version:   j.Version,
		Algorithm: keys.Algorithm(j.Algorithm),
		KeyID:     j.KeyID,
		Nonce:     j.Nonce,
		Address:   j.Address,
	}
	var err error
	if out.ClassicalSignature, err = decodeHexField(j.ClassicalSignature); err != nil {
		return err
	}
	if out.PostQuantumSignature, err = decodeHexField(j.PostQuantumSignature); err != nil {
		return err
	}
	if out.PublicKey, err = decodeHexField(j.PublicKey); err != nil {
		return err
	}
	*s = out
	return nil
}

func decodeHexField(s string) ([]byte, error) {
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-HYBRID-013", "invalid hex field", err)
	}
	return b, nil
}

// Component names used in Verification.Failed.
const (
	ComponentClassical   = "classical"
	ComponentPostQuantum = "post-quantum"
)

// Verification is the outcome of checking a hybrid signature. It is a value,
// not an error: Valid is false whenever any component failed.
type Verification struct {
	Valid            bool     `json:"valid"`
	ClassicalValid   bool     `json:"classicalValid"`
	PostQuantumValid bool     `json:"postQuantumValid"`
	Failed           []string `json:"failed,omitempty"`
}

// Expected names the signer a hybrid signature must come from.
type Expected struct {
	// Address is the classical signer. Empty means the address carried in
	// the signature.
	Address string
	// PublicKey pins the post-quantum key. Nil accepts the key carried in the
	// signature, whose only binding is then the classical half.
	PublicKey []byte
}

// Verify checks both halves of sig over message. address names the expected
// classical signer; empty means the address carried in sig. The post-quantum
// key is the one carried in sig; use VerifyExpected to pin it.
func Verify(message []byte, sig *Signature, address string) Verification {
	return VerifyExpected(message, sig, Expected{Address: address})
}

// VerifyExpected is Verify against a pinned signer. A post-quantum key that
// differs from want.PublicKey fails the post-quantum component.
func VerifyExpected(message []byte, sig *Signature, want Expected) Verification {
	var v Verification
	if sig == nil {
		v.Failed = []string{ComponentClassical, ComponentPostQuantum}
		return v
	}
	address := want.Address
	if address == "" {
		address = sig.Address
	}
	input := signedInput(sig.Algorithm, sig.PublicKey, sig.Nonce, message)

	if recovered, err := RecoverAddress(digest.Keccak256(input), sig.ClassicalSignature); err == nil {
		v.ClassicalValid = sameAddress(recovered, address)
	}

	pinned := want.PublicKey == nil || bytes.Equal(want.PublicKey, sig.PublicKey)
	if alg, ok := keys.AlgorithmForPublicKey(sig.PublicKey); ok && alg == sig.Algorithm && pinned {
		v.PostQuantumValid = keys.VerifySignatureWith(alg, input, sig.PostQuantumSignature, sig.PublicKey)
	}

	if !v.ClassicalValid {
		v.Failed = append(v.Failed, ComponentClassical)
	}
	if !v.PostQuantumValid {
		v.Failed = append(v.Failed, ComponentPostQuantum)
	}
	v.Valid = v.ClassicalValid && v.PostQuantumValid
	return v
}
