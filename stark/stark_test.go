package stark

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"xdao.co/equinox/fault"
	"xdao.co/equinox/merkle"
)

var testParams = Params{Blowup: 4, Queries: 8, SpotChecks: 4}

// deterministicReader yields a repeatable byte stream for blinding rows.
type deterministicReader struct{ b byte }

func (r *deterministicReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = r.b
		r.b++
	}
	return len(p), nil
}

func testProver(t *testing.T) *Prover {
	t.Helper()
	p, err := NewProver(ProverOptions{Params: testParams, Rand: &deterministicReader{}})
	if err != nil {
		t.Fatalf("NewProver: %v", err)
	}
	return p
}

func testVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierOptions{Params: testParams, CacheSize: 8})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func testData(n int) []byte {
	r := rand.New(rand.NewSource(int64(n)))
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestDomainGenerator(t *testing.T) {
	d, err := newLDEDomain(64)
	if err != nil {
		t.Fatalf("newLDEDomain: %v", err)
	}
	var one, minusOne fr.Element
	one.SetOne()
	minusOne.Neg(&one)
	if got := pow(d.Omega, 64); !got.Equal(&one) {
		t.Fatalf("omega^64 != 1")
	}
	if got := pow(d.Omega, 32); !got.Equal(&minusOne) {
		t.Fatalf("omega^32 != -1")
	}
	if _, err := newLDEDomain(48); err == nil {
		t.Fatalf("expected error for non power of two")
	}
}

func TestNTTRoundTrip(t *testing.T) {
	d, _ := newLDEDomain(16)
	a := make([]fr.Element, 16)
	for i := range a {
		a[i].SetUint64(uint64(i*i + 3))
	}
	orig := append([]fr.Element(nil), a...)
	ntt(a, d.Omega)
	intt(a, d.Omega)
	for i := range a {
		if !a[i].Equal(&orig[i]) {
			t.Fatalf("index %d differs after round trip", i)
		}
	}
}

func horner(coeffs []fr.Element, x fr.Element) fr.Element {
	var acc fr.Element
	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(&acc, &x)
		acc.Add(&acc, &coeffs[i])
	}
	return acc
}

func TestExtendMatchesDirectEvaluation(t *testing.T) {
	const rows, blowup = 8, 4
	lde, _ := newLDEDomain(rows * blowup)
	g := pow(lde.Omega, blowup)

	coeffs := make([]fr.Element, rows)
	for i := range coeffs {
		coeffs[i].SetUint64(uint64(7*i + 1))
	}
	evals := make([]fr.Element, rows)
	for i := range evals {
		evals[i] = horner(coeffs, pow(g, uint64(i)))
	}
	ext := extend(evals, g, lde)
	for k, x := range lde.points() {
		want := horner(coeffs, x)
		if !ext[k].Equal(&want) {
			t.Fatalf("extension differs at %d", k)
		}
	}
}

func TestProofRoundTrip(t *testing.T) {
	p := testProver(t)
	v := testVerifier(t)

	for _, size := range []int{0, 5, 1024, 3000} {
		data := testData(size)
		st := NewStatement(uint64(len(data)), 256)
		art, err := p.GenerateProof(context.Background(), data, st)
		if err != nil {
			t.Fatalf("size %d: GenerateProof: %v", size, err)
		}
		tree, _ := merkle.Build(data, 256)
		if art.Commitment != merkle.RootHex(tree) {
			t.Fatalf("size %d: artifact commitment is not the Merkle root", size)
		}
		if err := v.Check(art.Proof, art.Commitment, st); err != nil {
			t.Fatalf("size %d: Check: %v", size, err)
		}
		if !v.VerifyArtifact(art) {
			t.Fatalf("size %d: honest proof rejected", size)
		}
	}
}

func TestProofRejectsMismatches(t *testing.T) {
	p := testProver(t)
	v := testVerifier(t)
	data := testData(2000)
	st := NewStatement(uint64(len(data)), 128)
	art, err := p.GenerateProof(context.Background(), data, st)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	other, _ := merkle.Build(testData(2001)[:2000], 128)
	if v.VerifyProof(art.Proof, merkle.RootHex(other), st) {
		t.Fatalf("accepted a different commitment")
	}

	st2 := st
	st2.FileLength++
	if v.VerifyProof(art.Proof, art.Commitment, st2) {
		t.Fatalf("accepted a different statement")
	}
	st3 := st
	st3.ChunkSize = 256
	if v.VerifyProof(art.Proof, art.Commitment, st3) {
		t.Fatalf("accepted a different chunk size")
	}

	mutated := append([]byte(nil), art.Proof...)
	mutated[len(mutated)-1] ^= 0x01
	if v.VerifyProof(mutated, art.Commitment, st) {
		t.Fatalf("accepted a mutated proof")
	}

	if v.VerifyProof(art.Proof[:len(art.Proof)/2], art.Commitment, st) {
		t.Fatalf("accepted a truncated proof")
	}
	if v.VerifyProof(nil, art.Commitment, st) {
		t.Fatalf("accepted an empty proof")
	}
	if err := v.Check(art.Proof, "not-hex", st); !fault.IsKind(err, fault.KindInvalidFormat) {
		t.Fatalf("expected InvalidFormat for bad commitment, got %v", err)
	}

	strict, err := NewVerifier(VerifierOptions{Params: Params{Blowup: 4, Queries: 16, SpotChecks: 4}})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if strict.VerifyProof(art.Proof, art.Commitment, st) {
		t.Fatalf("accepted a proof made with weaker parameters")
	}
}

func TestProofRejectsTamperedFields(t *testing.T) {
	p := testProver(t)
	v := testVerifier(t)
	data := testData(777)
	st := NewStatement(uint64(len(data)), 64)
	art, err := p.GenerateProof(context.Background(), data, st)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	tamper := func(name string, f func(w *proofWire)) {
		t.Helper()
		w, err := decodeProof(art.Proof)
		if err != nil {
			t.Fatalf("decodeProof: %v", err)
		}
		f(w)
		b, err := encodeProof(w)
		if err != nil {
			t.Fatalf("encodeProof: %v", err)
		}
		if err := v.Check(b, art.Commitment, st); err == nil {
			t.Fatalf("%s: tampered proof accepted", name)
		}
	}

	var one fr.Element
	one.SetOne()
	tamper("final layer", func(w *proofWire) {
		for i := range w.Final {
			e, _ := decodeElement(w.Final[i])
			e.Add(&e, &one)
			w.Final[i] = encodeElement(e)
		}
	})
	tamper("trace value", func(w *proofWire) {
		e, _ := decodeElement(w.Queries[0].Trace.Values[1])
		e.Add(&e, &one)
		w.Queries[0].Trace.Values[1] = encodeElement(e)
	})
	tamper("spot leaf", func(w *proofWire) {
		w.Spots[0].Leaf[0] ^= 1
	})
	tamper("trace root", func(w *proofWire) {
		w.TraceRoot[0] ^= 1
	})
	tamper("spot path", func(w *proofWire) {
		w.Spots[0].Path = w.Spots[0].Path[:len(w.Spots[0].Path)-1]
	})
	tamper("dropped query", func(w *proofWire) {
		w.Queries = w.Queries[1:]
	})
	tamper("non-canonical element", func(w *proofWire) {
		w.Final[0] = bytes.Repeat([]byte{0xff}, 32)
	})
}

func TestProofIsShorterThanInput(t *testing.T) {
	data := testData(1 << 20)
	st := NewStatement(uint64(len(data)), merkle.DefaultChunkSize)
	art, err := GenerateProof(context.Background(), data, st)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	if art.Size() >= len(data)/4 {
		t.Fatalf("proof of %d bytes is not succinct for %d bytes of input", art.Size(), len(data))
	}
	if !VerifyProof(art.Proof, art.Commitment, st) {
		t.Fatalf("default verifier rejected the default prover's proof")
	}
}

func TestGenerateProofFailures(t *testing.T) {
	p, err := NewProver(ProverOptions{Params: testParams, MaxInputSize: 16})
	if err != nil {
		t.Fatalf("NewProver: %v", err)
	}

	data := testData(17)
	if _, err := p.GenerateProof(context.Background(), data, NewStatement(17, 8)); !fault.IsKind(err, fault.KindProofGeneration) {
		t.Fatalf("expected ProofGenerationError for oversized input, got %v", err)
	}
	if _, err := p.GenerateProof(context.Background(), data[:10], NewStatement(11, 8)); !fault.IsKind(err, fault.KindProofGeneration) {
		t.Fatalf("expected ProofGenerationError for length mismatch, got %v", err)
	}
	bad := NewStatement(10, 8)
	bad.HashAlgorithm = "sha2-256"
	if _, err := p.GenerateProof(context.Background(), data[:10], bad); !fault.IsKind(err, fault.KindProofGeneration) {
		t.Fatalf("expected ProofGenerationError for bad statement, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GenerateProof(ctx, data[:10], NewStatement(10, 8))
	if !fault.IsKind(err, fault.KindProofGeneration) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled ProofGenerationError, got %v", err)
	}
}

func TestEvaluationDomainIsCapped(t *testing.T) {
	huge := NewStatement(DefaultMaxInputSize, 1)
	if _, err := newShape(huge, DefaultParams()); !fault.IsKind(err, fault.KindProofGeneration) {
		t.Fatalf("expected ProofGenerationError for a one-byte chunk statement, got %v", err)
	}
	if sh, err := newShape(NewStatement(DefaultMaxInputSize, merkle.DefaultChunkSize), DefaultParams()); err != nil || sh.lde > MaxLDESize {
		t.Fatalf("default chunking of the maximum input must fit: lde=%d err=%v", sh.lde, err)
	}

	p, err := NewProver(ProverOptions{Params: testParams, MaxInputSize: 2 << 20})
	if err != nil {
		t.Fatalf("NewProver: %v", err)
	}
	data := make([]byte, 1<<20)
	if _, err := p.GenerateProof(context.Background(), data, NewStatement(uint64(len(data)), 1)); !fault.IsKind(err, fault.KindProofGeneration) {
		t.Fatalf("expected ProofGenerationError, got %v", err)
	}

	v := testVerifier(t)
	small := testData(100)
	art, err := testProver(t).GenerateProof(context.Background(), small, NewStatement(100, 32))
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	err = v.Check(art.Proof, art.Commitment, huge)
	if !fault.IsKind(err, fault.KindVerificationFailed) || fault.RuleID(err) != "EQX-STARK-054" {
		t.Fatalf("expected domain rejection, got %v", err)
	}
	if v.VerifyProof(art.Proof, art.Commitment, huge) {
		t.Fatalf("accepted a statement beyond the domain cap")
	}
}

func TestStatementAndParamsValidation(t *testing.T) {
	if err := NewStatement(10, 1024).Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	st := NewStatement(10, 1024)
	st.Version = 2
	if err := st.Validate(); !fault.IsKind(err, fault.KindInvalidFormat) {
		t.Fatalf("expected InvalidFormat for version, got %v", err)
	}
	st = NewStatement(10, 0)
	if err := st.Validate(); !fault.IsKind(err, fault.KindInvalidFormat) {
		t.Fatalf("expected InvalidFormat for chunk size, got %v", err)
	}
	for _, p := range []Params{{Blowup: 3, Queries: 1, SpotChecks: 1}, {Blowup: 2, Queries: 0, SpotChecks: 1}, {Blowup: 2, Queries: 1, SpotChecks: 0}} {
		if err := p.Validate(); err == nil {
			t.Fatalf("expected error for %+v", p)
		}
	}
}

func TestVerifierCache(t *testing.T) {
	p := testProver(t)
	v := testVerifier(t)
	data := testData(100)
	st := NewStatement(100, 32)
	art, err := p.GenerateProof(context.Background(), data, st)
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	for i := 0; i < 3; i++ {
		if !v.VerifyArtifact(art) {
			t.Fatalf("verification %d failed", i)
		}
	}
	count, hits, misses := v.Stats()
	if count != 3 || hits != 2 || misses != 1 {
		t.Fatalf("stats = %d/%d/%d", count, hits, misses)
	}
	v.ClearCache()
	if _, hits, _ := v.Stats(); hits != 0 {
		t.Fatalf("ClearCache did not reset hits")
	}
}

func TestArtifactEncoding(t *testing.T) {
	p := testProver(t)
	data := testData(64)
	art, err := p.GenerateProof(context.Background(), data, NewStatement(64, 16))
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	b, err := EncodeArtifact(art)
	if err != nil {
		t.Fatalf("EncodeArtifact: %v", err)
	}
	got, err := DecodeArtifact(b)
	if err != nil {
		t.Fatalf("DecodeArtifact: %v", err)
	}
	if got.Commitment != art.Commitment || got.Statement != art.Statement || !bytes.Equal(got.Proof, art.Proof) {
		t.Fatalf("artifact changed across encoding")
	}
	if _, err := DecodeArtifact([]byte{0xff}); !fault.IsKind(err, fault.KindInvalidFormat) {
		t.Fatalf("expected InvalidFormat, got %v", err)
	}
}
