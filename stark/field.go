package stark

import (
	"math/big"
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/fft"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
)

// FieldID names the prime field every trace value lives in.
const FieldID = "bn254-fr"

// maxLogDomain is the two-adicity of the BN254 scalar field.
const maxLogDomain = 28

var inv2 = func() fr.Element {
	var two, out fr.Element
	two.SetUint64(2)
	out.Inverse(&two)
	return out
}()

// domain is an evaluation coset offset·<omega> of size Size.
type domain struct {
	Size   int
	Log    int
	Omega  fr.Element
	Offset fr.Element
}

// newLDEDomain returns the coset used for low-degree extensions of size m.
// The offset is the field's multiplicative generator so the coset never meets
// the trace subgroup.
func newLDEDomain(m int) (domain, error) {
	if m <= 1 || m&(m-1) != 0 {
		return domain{}, fault.New(fault.KindInvalidFormat, "EQX-STARK-010", "domain size must be a power of two")
	}
	lg := bits.TrailingZeros(uint(m))
	if lg > maxLogDomain {
		return domain{}, fault.New(fault.KindInvalidFormat, "EQX-STARK-011", "domain exceeds field two-adicity")
	}
	d := fft.NewDomain(uint64(m), fft.WithoutPrecompute())
	return domain{Size: m, Log: lg, Omega: d.Generator, Offset: d.FrMultiplicativeGen}, nil
}

// square returns the domain of the next FRI layer.
func (d domain) square() domain {
	var out domain
	out.Size = d.Size / 2
	out.Log = d.Log - 1
	out.Omega.Square(&d.Omega)
	out.Offset.Square(&d.Offset)
	return out
}

// point returns offset·omega^k.
func (d domain) point(k int) fr.Element {
	var x fr.Element
	x.Exp(d.Omega, big.NewInt(int64(k)))
	x.Mul(&x, &d.Offset)
	return x
}

// points enumerates every element of the coset in index order.
func (d domain) points() []fr.Element {
	out := make([]fr.Element, d.Size)
	out[0] = d.Offset
	for i := 1; i < d.Size; i++ {
		out[i].Mul(&out[i-1], &d.Omega)
	}
	return out
}

func pow(x fr.Element, e uint64) fr.Element {
	var out fr.Element
	out.Exp(x, new(big.Int).SetUint64(e))
	return out
}

// ntt evaluates the coefficient vector a in place at omega^0..omega^(n-1).
func ntt(a []fr.Element, omega fr.Element) {
	n := len(a)
	bitReverse(a)
	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		wm := pow(omega, uint64(n/size))
		tw := make([]fr.Element, half)
		tw[0].SetOne()
		for i := 1; i < half; i++ {
			tw[i].Mul(&tw[i-1], &wm)
		}
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				var t fr.Element
				t.Mul(&tw[k], &a[start+k+half])
				u := a[start+k]
				a[start+k].Add(&u, &t)
				a[start+k+half].Sub(&u, &t)
			}
		}
	}
}

// intt is the inverse of ntt.
func intt(a []fr.Element, omega fr.Element) {
	var omegaInv, nInv fr.Element
	omegaInv.Inverse(&omega)
	ntt(a, omegaInv)
	nInv.SetUint64(uint64(len(a)))
	nInv.Inverse(&nInv)
	for i := range a {
		a[i].Mul(&a[i], &nInv)
	}
}

func bitReverse(a []fr.Element) {
	n := len(a)
	if n <= 1 {
		return
	}
	shift := uint(bits.UintSize - bits.TrailingZeros(uint(n)))
	for i := 0; i < n; i++ {
		j := int(bits.Reverse(uint(i)) >> shift)
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
}

// extend interpolates evals over the subgroup generated by traceOmega and
// evaluates the polynomial over lde.
func extend(evals []fr.Element, traceOmega fr.Element, lde domain) []fr.Element {
	coeffs := make([]fr.Element, lde.Size)
	copy(coeffs, evals)
	intt(coeffs[:len(evals)], traceOmega)
	// p(offset·x) has coefficients c_i·offset^i.
	var s fr.Element
	s.SetOne()
	for i := 0; i < len(evals); i++ {
		coeffs[i].Mul(&coeffs[i], &s)
		s.Mul(&s, &lde.Offset)
	}
	ntt(coeffs, lde.Omega)
	return coeffs
}

// fromDigest maps a 32-byte digest into the field by modular reduction.
func fromDigest(d digest.Digest) fr.Element {
	var e fr.Element
	e.SetBytes(d[:])
	return e
}

// fromWide maps a wide challenge into the field.
func fromWide(b []byte) fr.Element {
	var e fr.Element
	e.SetBytes(b)
	return e
}

func encodeElement(e fr.Element) []byte {
	b := e.Bytes()
	return b[:]
}

// decodeElement accepts only canonical 32-byte encodings.
func decodeElement(b []byte) (fr.Element, error) {
	var e fr.Element
	if len(b) != fr.Bytes {
		return e, fault.New(fault.KindInvalidFormat, "EQX-STARK-012", "field element must be 32 bytes")
	}
	if err := e.SetBytesCanonical(b); err != nil {
		return e, fault.Wrap(fault.KindInvalidFormat, "EQX-STARK-013", "non-canonical field element", err)
	}
	return e, nil
}

func encodeElements(es []fr.Element) [][]byte {
	out := make([][]byte, len(es))
	for i := range es {
		out[i] = encodeElement(es[i])
	}
	return out
}

func decodeElements(bs [][]byte) ([]fr.Element, error) {
	out := make([]fr.Element, len(bs))
	for i, b := range bs {
		e, err := decodeElement(b)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
