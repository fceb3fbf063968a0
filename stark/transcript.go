package stark

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"xdao.co/equinox/digest"
)

// transcript is a SHA3-256 Fiat-Shamir sponge. Prover and verifier absorb the
// same labelled messages in the same order and so derive the same challenges.
type transcript struct {
	state digest.Digest
}

func newTranscript(domainTag string) *transcript {
	return &transcript{state: digest.SumParts([]byte("equinox-stark-transcript"), []byte{0}, []byte(domainTag))}
}

func lengthPrefix(b []byte) []byte {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(b)))
	return buf[:n]
}

func (t *transcript) absorb(label string, msgs ...[]byte) {
	h := digest.New()
	_, _ = h.Write(t.state[:])
	_, _ = h.Write(lengthPrefix([]byte(label)))
	_, _ = h.Write([]byte(label))
	for _, m := range msgs {
		_, _ = h.Write(lengthPrefix(m))
		_, _ = h.Write(m)
	}
	h.Sum(t.state[:0])
}

func (t *transcript) absorbUint(label string, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	t.absorb(label, b[:])
}

// squeeze returns 64 bytes and ratchets the state.
func (t *transcript) squeeze(label string) []byte {
	lo := digest.SumParts(t.state[:], []byte(label), []byte{0})
	hi := digest.SumParts(t.state[:], []byte(label), []byte{1})
	t.absorb("ratchet:"+label, lo[:], hi[:])
	out := make([]byte, 0, 2*digest.Size)
	out = append(out, lo[:]...)
	return append(out, hi[:]...)
}

func (t *transcript) element(label string) fr.Element {
	return fromWide(t.squeeze(label))
}

// index draws a value in [0, bound). bound must be positive.
func (t *transcript) index(label string, bound uint64) uint64 {
	b := t.squeeze(label)
	// Bounds never exceed the field's two-adic domain size, so the modulo
	// bias of a 64-bit draw is negligible.
	return binary.BigEndian.Uint64(b[:8]) % bound
}
