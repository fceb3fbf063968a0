package stark

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/merkle"
)

// Layers of evaluations are committed in pairs: leaf p of a layer of size m
// holds the values at p and p+m/2, which are the evaluations at x and -x.

var (
	traceLeafTag = []byte("equinox-stark-trace")
	friLeafTag   = []byte("equinox-stark-fri")
)

func traceLeaf(lo, hi fr.Element) digest.Digest {
	return digest.SumParts(traceLeafTag, encodeElement(lo), encodeElement(hi))
}

func friLeaf(lo, hi fr.Element) digest.Digest {
	return digest.SumParts(friLeafTag, encodeElement(lo), encodeElement(hi))
}

// commitTrace commits to the trace extension over the LDE coset.
func commitTrace(tv []fr.Element) (*merkle.Tree, error) {
	half := len(tv) / 2
	leaves := make([]digest.Digest, half)
	for p := 0; p < half; p++ {
		leaves[p] = traceLeaf(tv[p], tv[p+half])
	}
	return merkle.FromLeaves(leaves)
}

func commitLayer(f []fr.Element) (*merkle.Tree, error) {
	half := len(f) / 2
	leaves := make([]digest.Digest, half)
	for p := 0; p < half; p++ {
		leaves[p] = friLeaf(f[p], f[p+half])
	}
	return merkle.FromLeaves(leaves)
}

// foldPair computes f'(x^2) = (f(x)+f(-x))/2 + beta*(f(x)-f(-x))/(2x) given
// 1/x.
func foldPair(fx, fnx, xInv, beta fr.Element) fr.Element {
	var even, odd fr.Element
	even.Add(&fx, &fnx)
	even.Mul(&even, &inv2)
	odd.Sub(&fx, &fnx)
	odd.Mul(&odd, &inv2)
	odd.Mul(&odd, &xInv)
	odd.Mul(&odd, &beta)
	even.Add(&even, &odd)
	return even
}

// foldLayer folds a layer evaluated over d into one over d.square().
func foldLayer(f []fr.Element, d domain, beta fr.Element) []fr.Element {
	half := len(f) / 2
	xs := d.points()[:half]
	xInv := fr.BatchInvert(xs)
	out := make([]fr.Element, half)
	for k := 0; k < half; k++ {
		out[k] = foldPair(f[k], f[k+half], xInv[k], beta)
	}
	return out
}

func isConstant(f []fr.Element) bool {
	for i := 1; i < len(f); i++ {
		if !f[i].Equal(&f[0]) {
			return false
		}
	}
	return true
}
