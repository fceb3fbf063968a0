package stark

import (
	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/merkle"
)

// opening is a committed leaf's preimage values with its authentication path.
type opening struct {
	Values [][]byte `cbor:"v"`
	Path   [][]byte `cbor:"p"`
}

// spotOpening reveals one file tree leaf digest. The digest is public once
// it is in a proof.
type spotOpening struct {
	Leaf []byte   `cbor:"l"`
	Path [][]byte `cbor:"p"`
}

// queryOpening answers one FRI query: the trace pair at x and -x and one pair
// per committed FRI layer.
type queryOpening struct {
	Trace  opening   `cbor:"t"`
	Layers []opening `cbor:"f"`
}

// proofWire is the CBOR form of a proof.
type proofWire struct {
	Version    uint32         `cbor:"version"`
	Params     Params         `cbor:"params"`
	Commitment []byte         `cbor:"commitment"`
	Statement  Statement      `cbor:"statement"`
	TraceRoot  []byte         `cbor:"traceRoot"`
	Spots      []spotOpening  `cbor:"spots"`
	LayerRoots [][]byte       `cbor:"layerRoots"`
	Final      [][]byte       `cbor:"final"`
	Queries    []queryOpening `cbor:"queries"`
}

func encodeProof(p *proofWire) ([]byte, error) {
	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, fault.Wrap(fault.KindProofGeneration, "EQX-STARK-020", "proof encoding failed", err)
	}
	return b, nil
}

func decodeProof(b []byte) (*proofWire, error) {
	var p proofWire
	if err := decMode.Unmarshal(b, &p); err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-STARK-021", "malformed proof encoding", err)
	}
	return &p, nil
}

func encodePath(p merkle.InclusionProof) [][]byte {
	out := make([][]byte, len(p.Siblings))
	for i := range p.Siblings {
		out[i] = p.Siblings[i].Bytes()
	}
	return out
}

func decodePath(index uint64, path [][]byte) (merkle.InclusionProof, error) {
	out := merkle.InclusionProof{LeafIndex: index, Siblings: make([]digest.Digest, len(path))}
	for i, b := range path {
		d, err := digest.FromBytes(b)
		if err != nil {
			return merkle.InclusionProof{}, err
		}
		out.Siblings[i] = d
	}
	return out, nil
}

// Artifact bundles a proof with the commitment and statement it was made for.
type Artifact struct {
	Proof      []byte    `json:"proof" cbor:"proof"`
	Commitment string    `json:"commitment" cbor:"commitment"`
	Statement  Statement `json:"statement" cbor:"statement"`
}

// EncodeArtifact returns the deterministic CBOR encoding of a.
func EncodeArtifact(a *Artifact) ([]byte, error) {
	b, err := encMode.Marshal(a)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-STARK-022", "artifact encoding failed", err)
	}
	return b, nil
}

// DecodeArtifact parses an encoded artifact.
func DecodeArtifact(b []byte) (*Artifact, error) {
	var a Artifact
	if err := decMode.Unmarshal(b, &a); err != nil {
		return nil, fault.Wrap(fault.KindInvalidFormat, "EQX-STARK-023", "malformed artifact", err)
	}
	return &a, nil
}

// Size returns the encoded proof length.
func (a *Artifact) Size() int { return len(a.Proof) }
