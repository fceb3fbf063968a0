package stark

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// The execution trace is one column t over the trace subgroup H = <g>:
//
//	t[i]   leaf digest i for i < n, random blinding values afterwards
//
// Spot checks pin t at challenge rows to leaf digests opened against the file
// tree root. The composition
//
//	alpha_0*t(x) + sum_j alpha_(1+j)*(t(x) - v_j)/(x - g^i_j)
//
// has degree below N only when t is low degree and agrees with every opened
// leaf, which FRI then checks.

// constraints holds everything the composition polynomial depends on.
type constraints struct {
	spotPoints []fr.Element
	spotValues []fr.Element
	alphas     []fr.Element // 1 + len(spotPoints)
}

func newConstraints(g fr.Element, spotIdx []uint64, spotValues []fr.Element, alphas []fr.Element) *constraints {
	c := &constraints{spotValues: spotValues, alphas: alphas}
	c.spotPoints = make([]fr.Element, len(spotIdx))
	for i, idx := range spotIdx {
		c.spotPoints[i] = pow(g, idx)
	}
	return c
}

func alphaCount(spots int) int { return 1 + spots }

// spotTerm is alpha_(1+j)*(t(x) - v_j)/(x - g^i_j) given the inverted
// denominator.
func (c *constraints) spotTerm(j int, t, inv fr.Element) fr.Element {
	var out fr.Element
	out.Sub(&t, &c.spotValues[j])
	out.Mul(&out, &inv)
	out.Mul(&out, &c.alphas[1+j])
	return out
}

// evaluate returns the composition at x from the opened trace value.
func (c *constraints) evaluate(x, t fr.Element) fr.Element {
	var acc fr.Element
	acc.Mul(&c.alphas[0], &t)
	for j := range c.spotPoints {
		var inv fr.Element
		inv.Sub(&x, &c.spotPoints[j])
		inv.Inverse(&inv)
		term := c.spotTerm(j, t, inv)
		acc.Add(&acc, &term)
	}
	return acc
}

// composeLDE evaluates the composition over the whole LDE coset. xs are the
// coset points and tv the trace extension.
func (c *constraints) composeLDE(xs, tv []fr.Element) []fr.Element {
	m := len(xs)
	out := make([]fr.Element, m)
	for k := range xs {
		out[k].Mul(&c.alphas[0], &tv[k])
	}
	buf := make([]fr.Element, m)
	for j := range c.spotPoints {
		for k := range xs {
			buf[k].Sub(&xs[k], &c.spotPoints[j])
		}
		inv := fr.BatchInvert(buf)
		for k := range xs {
			term := c.spotTerm(j, tv[k], inv[k])
			out[k].Add(&out[k], &term)
		}
	}
	return out
}
