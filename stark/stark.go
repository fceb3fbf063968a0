// Package stark produces and checks succinct proofs that a SHA3 Merkle root
// commits to bytes the prover holds.
//
// The proof is a FRI-based argument over the BN254 scalar field. The prover
// commits to a trace of the file tree's leaf digests, padded with random
// blinding rows, through a low-degree extension. It opens Fiat-Shamir chosen
// leaves of the file tree against the public root, pins the trace to them, and
// shows the combined quotient is low degree. The verifier never sees the file
// bytes.
//
// A proof is not zero-knowledge about the leaves it spot checks: each opened
// leaf digest and its authentication path are published. Chunk bytes stay
// hidden behind SHA3, so a chunk whose contents can be guessed can be
// confirmed from its leaf. Unopened leaves are masked by the blinding rows.
//
// Proofs are optional hardening: generation can fail with a
// ProofGenerationError (input too large, cancelled) and callers proceed
// without one.
package stark

import (
	"context"
	"sync"
)

var (
	defaultOnce     sync.Once
	defaultProver   *Prover
	defaultVerifier *Verifier
	defaultErr      error
)

func defaults() (*Prover, *Verifier, error) {
	defaultOnce.Do(func() {
		defaultProver, defaultErr = NewProver(ProverOptions{})
		if defaultErr != nil {
			return
		}
		defaultVerifier, defaultErr = NewVerifier(VerifierOptions{})
	})
	return defaultProver, defaultVerifier, defaultErr
}

// GenerateProof runs the default prover.
func GenerateProof(ctx context.Context, data []byte, st Statement) (*Artifact, error) {
	p, _, err := defaults()
	if err != nil {
		return nil, err
	}
	return p.GenerateProof(ctx, data, st)
}

// VerifyProof runs the default verifier.
func VerifyProof(proof []byte, commitment string, st Statement) bool {
	_, v, err := defaults()
	if err != nil {
		return false
	}
	return v.VerifyProof(proof, commitment, st)
}
