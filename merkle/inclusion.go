package merkle

import (
	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
)

// InclusionProof is the sibling path from a leaf to the root, leaf level first.
type InclusionProof struct {
	LeafIndex uint64
	Siblings  []digest.Digest
}

// ProveInclusion returns the authentication path for leafIndex.
func (t *Tree) ProveInclusion(leafIndex int) (InclusionProof, error) {
	if leafIndex < 0 || leafIndex >= t.LeafCount() {
		return InclusionProof{}, fault.New(fault.KindInvalidFormat, "EQX-MERKLE-004", "leaf index out of range")
	}
	p := InclusionProof{LeafIndex: uint64(leafIndex), Siblings: make([]digest.Digest, 0, t.Depth())}
	idx := leafIndex
	for _, level := range t.Levels[:len(t.Levels)-1] {
		sib := idx ^ 1
		if sib >= len(level) {
			// Odd level: the last node is paired with itself.
			sib = idx
		}
		p.Siblings = append(p.Siblings, level[sib])
		idx /= 2
	}
	return p, nil
}

// VerifyInclusion reports whether leafDigest sits at leafIndex of a tree with
// leafCount leaves under root. The path must be exactly as long as that tree
// is deep, and a node paired with itself must carry itself as the sibling. It
// never panics; malformed proofs return false.
func VerifyInclusion(root digest.Digest, leafCount, leafIndex uint64, leafDigest digest.Digest, proof InclusionProof) bool {
	if proof.LeafIndex != leafIndex || leafIndex >= leafCount {
		return false
	}
	if len(proof.Siblings) != DepthFor(leafCount) {
		return false
	}
	cur := leafDigest
	idx, width := leafIndex, leafCount
	for _, sib := range proof.Siblings {
		switch {
		case idx&1 == 1:
			cur = NodeDigest(sib, cur)
		case idx+1 == width:
			if sib != cur {
				return false
			}
			cur = NodeDigest(cur, cur)
		default:
			cur = NodeDigest(cur, sib)
		}
		idx >>= 1
		width = (width + 1) / 2
	}
	return cur == root
}

// VerifyInclusionHex is VerifyInclusion for a hex-encoded root. Malformed root
// strings are InvalidFormat errors rather than a false result.
func VerifyInclusionHex(rootHex string, leafCount, leafIndex uint64, leafDigest digest.Digest, proof InclusionProof) (bool, error) {
	root, err := ParseRootHex(rootHex)
	if err != nil {
		return false, err
	}
	return VerifyInclusion(root, leafCount, leafIndex, leafDigest, proof), nil
}
