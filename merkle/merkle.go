// Package merkle builds the deterministic SHA3-256 hash tree that commits to a
// file's bytes.
//
// Rules (fixed; any change alters every root):
//   - the file is split into chunkSize-byte chunks, the last one zero-padded;
//     an empty file has a single all-zero chunk;
//   - leaf = SHA3-256(paddedChunk || uint64be(validBytesInChunk) || uint64be(leafIndex));
//   - node = SHA3-256(left || right);
//   - a level with an odd number of nodes pairs its last node with itself.
//
// Binding the index into each leaf keeps the duplication rule from giving a
// file and the same file with its last chunk repeated the same root.
package merkle

import (
	"context"
	"encoding/binary"
	"runtime"

	"golang.org/x/sync/errgroup"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
)

const (
	// DefaultChunkSize is used when callers do not declare a chunk size.
	DefaultChunkSize = 1024
	// MaxChunkSize bounds a single leaf preimage.
	MaxChunkSize = 1 << 20

	parallelLeafThreshold = 256
)

// Tree is a fully materialized Merkle tree. Levels[0] holds the leaves and the
// last level holds only the root.
type Tree struct {
	Length    uint64
	ChunkSize int
	Levels    [][]digest.Digest
}

// Build commits to data using chunkSize-byte chunks.
func Build(data []byte, chunkSize int) (*Tree, error) {
	return BuildContext(context.Background(), data, chunkSize)
}

// BuildContext is Build with cancellation between leaf batches.
func BuildContext(ctx context.Context, data []byte, chunkSize int) (*Tree, error) {
	if err := CheckChunkSize(chunkSize); err != nil {
		return nil, err
	}
	n := LeafCount(uint64(len(data)), chunkSize)
	leaves := make([]digest.Digest, n)

	hashRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			start := i * chunkSize
			end := start + chunkSize
			if end > len(data) {
				end = len(data)
			}
			if start > end {
				start = end
			}
			leaves[i] = LeafDigest(data[start:end], chunkSize, uint64(i))
		}
	}

	if n < parallelLeafThreshold {
		hashRange(0, n)
	} else {
		workers := runtime.GOMAXPROCS(0)
		per := (n + workers - 1) / workers
		g, gctx := errgroup.WithContext(ctx)
		for lo := 0; lo < n; lo += per {
			lo, hi := lo, lo+per
			if hi > n {
				hi = n
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				hashRange(lo, hi)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := fold(leaves)
	t.Length = uint64(len(data))
	t.ChunkSize = chunkSize
	return t, nil
}

// FromLeaves builds a tree over precomputed leaf digests. Length and ChunkSize
// are left zero; such trees commit to digests, not file bytes.
func FromLeaves(leaves []digest.Digest) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-MERKLE-003", "at least one leaf is required")
	}
	cp := make([]digest.Digest, len(leaves))
	copy(cp, leaves)
	return fold(cp), nil
}

func fold(leaves []digest.Digest) *Tree {
	t := &Tree{Levels: [][]digest.Digest{leaves}}
	level := leaves
	for len(level) > 1 {
		next := make([]digest.Digest, (len(level)+1)/2)
		for i := range next {
			left := level[2*i]
			right := left
			if 2*i+1 < len(level) {
				right = level[2*i+1]
			}
			next[i] = NodeDigest(left, right)
		}
		t.Levels = append(t.Levels, next)
		level = next
	}
	return t
}

// LeafDigest hashes chunk number index, zero-padding it to chunkSize and
// binding the number of valid bytes and the position.
func LeafDigest(chunk []byte, chunkSize int, index uint64) digest.Digest {
	var trailer [16]byte
	binary.BigEndian.PutUint64(trailer[:8], uint64(len(chunk)))
	binary.BigEndian.PutUint64(trailer[8:], index)
	h := digest.New()
	_, _ = h.Write(chunk)
	if pad := chunkSize - len(chunk); pad > 0 {
		_, _ = h.Write(make([]byte, pad))
	}
	_, _ = h.Write(trailer[:])
	var out digest.Digest
	h.Sum(out[:0])
	return out
}

// NodeDigest hashes two children, left then right.
func NodeDigest(left, right digest.Digest) digest.Digest {
	return digest.SumParts(left[:], right[:])
}

// LeafCount is ceil(length/chunkSize) with a minimum of one.
func LeafCount(length uint64, chunkSize int) int {
	if length == 0 {
		return 1
	}
	cs := uint64(chunkSize)
	return int((length + cs - 1) / cs)
}

// CheckChunkSize validates a declared chunk size.
func CheckChunkSize(chunkSize int) error {
	if chunkSize <= 0 || chunkSize > MaxChunkSize {
		return fault.New(fault.KindInvalidFormat, "EQX-MERKLE-001", "chunk size out of range")
	}
	return nil
}

// Root returns the root digest.
func (t *Tree) Root() digest.Digest {
	top := t.Levels[len(t.Levels)-1]
	return top[0]
}

// Leaves returns the leaf digests. The slice is shared with the tree.
func (t *Tree) Leaves() []digest.Digest {
	return t.Levels[0]
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	return len(t.Levels[0])
}

// Depth is the number of sibling hashes in an inclusion proof.
func (t *Tree) Depth() int {
	return len(t.Levels) - 1
}

// DepthFor is the depth of a tree with leafCount leaves.
func DepthFor(leafCount uint64) int {
	d := 0
	for w := leafCount; w > 1; w = (w + 1) / 2 {
		d++
	}
	return d
}

// RootHex returns the canonical lowercase hex encoding of the root.
func RootHex(t *Tree) string {
	return t.Root().Hex()
}

// ParseRootHex decodes a root string, rejecting anything that is not exactly
// 64 lowercase hex characters.
func ParseRootHex(s string) (digest.Digest, error) {
	d, err := digest.ParseHex(s)
	if err != nil {
		return digest.Digest{}, fault.Wrap(fault.KindInvalidFormat, "EQX-MERKLE-002", "invalid merkle root", err)
	}
	return d, nil
}
