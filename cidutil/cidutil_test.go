package cidutil

import (
	"strings"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
)

func TestRootCIDRoundTrip(t *testing.T) {
	root := digest.Sum([]byte("root"))
	s := RootCIDString(root)
	if !strings.HasPrefix(s, "b") {
		t.Fatalf("expected base32 CIDv1, got %q", s)
	}
	if s != RootCIDString(root) {
		t.Fatalf("RootCIDString not deterministic")
	}
	got, err := ParseRootCID(s)
	if err != nil {
		t.Fatalf("ParseRootCID: %v", err)
	}
	if got != root {
		t.Fatalf("round trip mismatch")
	}
}

func TestParseRootCIDRejectsOtherHashes(t *testing.T) {
	sum, err := multihash.Sum([]byte("x"), multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash.Sum: %v", err)
	}
	other := cid.NewCidV1(cid.Raw, sum).String()
	if _, err := ParseRootCID(other); !fault.IsKind(err, fault.KindInvalidFormat) {
		t.Fatalf("expected InvalidFormat for sha2 CID, got %v", err)
	}
	if _, err := ParseRootCID("not-a-cid"); !fault.IsKind(err, fault.KindInvalidFormat) {
		t.Fatalf("expected InvalidFormat for garbage, got %v", err)
	}
}
