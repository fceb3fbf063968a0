// Package cidutil renders Merkle roots as content identifiers so commitments can
// be exchanged with CID-aware tooling.
package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
)

// RootCID returns a CIDv1 using the "raw" multicodec and a sha3-256 multihash
// whose digest is the Merkle root itself.
func RootCID(root digest.Digest) (cid.Cid, error) {
	mh, err := multihash.Encode(root[:], multihash.SHA3_256)
	if err != nil {
		return cid.Undef, fault.Wrap(fault.KindInternal, "EQX-CID-001", "multihash encode failed", err)
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// RootCIDString is RootCID rendered in its default multibase.
func RootCIDString(root digest.Digest) string {
	c, err := RootCID(root)
	if err != nil {
		// Encode only fails for unknown codes or oversized digests; neither
		// applies to a 32-byte sha3-256 digest.
		return ""
	}
	return c.String()
}

// ParseRootCID recovers the Merkle root from a CID produced by RootCID.
func ParseRootCID(s string) (digest.Digest, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return digest.Digest{}, fault.Wrap(fault.KindInvalidFormat, "EQX-CID-002", "invalid CID", err)
	}
	if c.Version() != 1 || c.Type() != cid.Raw {
		return digest.Digest{}, fault.New(fault.KindInvalidFormat, "EQX-CID-003", "root CID must be CIDv1 raw")
	}
	dec, err := multihash.Decode(c.Hash())
	if err != nil {
		return digest.Digest{}, fault.Wrap(fault.KindInvalidFormat, "EQX-CID-004", "invalid multihash", err)
	}
	if dec.Code != multihash.SHA3_256 {
		return digest.Digest{}, fault.New(fault.KindInvalidFormat, "EQX-CID-005", "root CID must use sha3-256")
	}
	return digest.FromBytes(dec.Digest)
}
