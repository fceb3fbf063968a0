package hybrid

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"xdao.co/equinox/cidutil"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/merkle"
	"xdao.co/equinox/stark"
)

// FileInput is a file handed to SignFile.
type FileInput struct {
	Name string
	Type string
	Data []byte
}

// Descriptor is the JSON document a file signature covers.
type Descriptor struct {
	FileName   string `json:"fileName"`
	FileSize   uint64 `json:"fileSize"`
	FileType   string `json:"fileType"`
	ChunkSize  int    `json:"chunkSize"`
	MerkleRoot string `json:"merkleRoot"`
	Timestamp  int64  `json:"timestamp"`
	BatchIndex *int   `json:"batchIndex,omitempty"`
}

// FileSignature is a hybrid signature over a file descriptor, with the
// optional proof bound to the same Merkle root.
type FileSignature struct {
	Descriptor Descriptor      `json:"descriptor"`
	Payload    []byte          `json:"payload"`
	Signature  *Signature      `json:"signature"`
	RootCID    string          `json:"rootCid"`
	Proof      *stark.Artifact `json:"proof,omitempty"`
}

// SignFile commits to in.Data, signs the descriptor and, when withProof is
// set and a prover is configured, attaches a proof. A failed proof is logged
// and the signature is returned without one.
func (s *Signer) SignFile(ctx context.Context, in FileInput, nonce string, withProof bool) (*FileSignature, error) {
	return s.signFile(ctx, in, nonce, withProof, nil)
}

// SignBatch signs each file under nonce "<prefix>-<index>" and records the
// index in its descriptor. It stops at the first signing error.
func (s *Signer) SignBatch(ctx context.Context, files []FileInput, noncePrefix string, withProof bool) ([]*FileSignature, error) {
	if noncePrefix == "" {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-HYBRID-030", "nonce prefix must not be empty")
	}
	out := make([]*FileSignature, 0, len(files))
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := i
		fs, err := s.signFile(ctx, f, noncePrefix+"-"+strconv.Itoa(i), withProof, &idx)
		if err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, nil
}

func (s *Signer) signFile(ctx context.Context, in FileInput, nonce string, withProof bool, batchIndex *int) (*FileSignature, error) {
	tree, err := merkle.BuildContext(ctx, in.Data, s.chunkSize)
	if err != nil {
		return nil, err
	}
	desc := Descriptor{
		FileName:   in.Name,
		FileSize:   uint64(len(in.Data)),
		FileType:   in.Type,
		ChunkSize:  s.chunkSize,
		MerkleRoot: merkle.RootHex(tree),
		Timestamp:  s.now().UnixMilli(),
		BatchIndex: batchIndex,
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "EQX-HYBRID-031", "descriptor encoding failed", err)
	}
	sig, err := s.SignData(payload, nonce)
	if err != nil {
		return nil, err
	}
	fs := &FileSignature{
		Descriptor: desc,
		Payload:    payload,
		Signature:  sig,
		RootCID:    cidutil.RootCIDString(tree.Root()),
	}

	if withProof && s.prover != nil {
		art, err := s.prover.GenerateProof(ctx, in.Data, stark.NewStatement(uint64(len(in.Data)), s.chunkSize))
		if err != nil {
			s.log.Warn("proof skipped",
				zap.String("file", in.Name),
				zap.String("rule_id", fault.RuleID(err)),
				zap.Error(err))
		} else {
			fs.Proof = art
		}
	}
	return fs, nil
}

// FileVerification is the outcome of VerifyFile.
type FileVerification struct {
	Verification
	RootMatches bool `json:"rootMatches"`
	// ProofValid is nil when the signature carries no proof or no verifier was
	// supplied.
	ProofValid *bool `json:"proofValid,omitempty"`
}

// ProofVerifier checks the proof attached to a file signature.
type ProofVerifier interface {
	VerifyArtifact(a *stark.Artifact) bool
}

// VerifyFile recomputes the Merkle root of data with the signed chunk size,
// checks it against the signed descriptor and verifies the hybrid signature
// against want. An attached proof is checked when pv is non-nil; its result is
// reported but does not affect Valid.
func VerifyFile(data []byte, fs *FileSignature, want Expected, pv ProofVerifier) FileVerification {
	var out FileVerification
	if fs == nil {
		out.Verification = VerifyExpected(nil, nil, want)
		return out
	}
	out.Verification = VerifyExpected(fs.Payload, fs.Signature, want)

	var desc Descriptor
	dec := json.NewDecoder(bytes.NewReader(fs.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&desc); err == nil && desc.FileSize == uint64(len(data)) {
		if root, err := merkle.ParseRootHex(desc.MerkleRoot); err == nil {
			if tree, err := merkle.Build(data, desc.ChunkSize); err == nil {
				out.RootMatches = tree.Root() == root
			}
		}
	}
	if !out.RootMatches {
		out.Valid = false
	}

	if fs.Proof != nil && pv != nil {
		ok := out.RootMatches &&
			fs.Proof.Commitment == desc.MerkleRoot &&
			fs.Proof.Statement.ChunkSize == uint32(desc.ChunkSize) &&
			fs.Proof.Statement.FileLength == desc.FileSize &&
			pv.VerifyArtifact(fs.Proof)
		out.ProofValid = &ok
	}
	return out
}
