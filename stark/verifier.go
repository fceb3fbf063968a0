package stark

import (
	"bytes"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/internal/metrics"
	"xdao.co/equinox/merkle"
)

// DefaultCacheSize is the number of verification results kept.
const DefaultCacheSize = 256

// VerifierOptions configures a Verifier. Zero values select defaults.
type VerifierOptions struct {
	// Params must match the prover's exactly.
	Params       Params
	MaxInputSize int64
	CacheSize    int
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
}

// Verifier checks proofs. It is safe for concurrent use.
type Verifier struct {
	params  Params
	maxSize int64
	log     *zap.Logger
	metrics *metrics.Recorder

	cache *lru.Cache

	mu          sync.RWMutex
	verifyCount uint64
	cacheHits   uint64
	cacheMisses uint64
}

// NewVerifier validates opts and returns a Verifier.
func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	v := &Verifier{
		params:  opts.Params,
		maxSize: opts.MaxInputSize,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if v.params == (Params{}) {
		v.params = DefaultParams()
	}
	if err := v.params.Validate(); err != nil {
		return nil, err
	}
	if v.maxSize <= 0 {
		v.maxSize = DefaultMaxInputSize
	}
	if v.log == nil {
		v.log = zap.NewNop()
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, "EQX-STARK-040", "verification cache", err)
	}
	v.cache = cache
	return v, nil
}

// VerifyProof reports whether proof attests to commitment under statement.
// Malformed input yields false.
func (v *Verifier) VerifyProof(proof []byte, commitment string, st Statement) bool {
	key := cacheKey(proof, commitment, st)
	if res, ok := v.cache.Get(key); ok {
		v.mu.Lock()
		v.verifyCount++
		v.cacheHits++
		v.mu.Unlock()
		v.metrics.ProofVerified(res.(bool), true)
		return res.(bool)
	}

	err := v.Check(proof, commitment, st)
	ok := err == nil
	v.cache.Add(key, ok)

	v.mu.Lock()
	v.verifyCount++
	v.cacheMisses++
	v.mu.Unlock()
	v.metrics.ProofVerified(ok, false)
	if err != nil {
		v.log.Debug("proof rejected", zap.String("commitment", commitment), zap.String("rule", fault.RuleID(err)))
	}
	return ok
}

// VerifyArtifact is VerifyProof over an artifact's own fields.
func (v *Verifier) VerifyArtifact(a *Artifact) bool {
	if a == nil {
		return false
	}
	return v.VerifyProof(a.Proof, a.Commitment, a.Statement)
}

// Stats returns verification counters.
func (v *Verifier) Stats() (verifyCount, cacheHits, cacheMisses uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.verifyCount, v.cacheHits, v.cacheMisses
}

// ClearCache drops every cached result.
func (v *Verifier) ClearCache() {
	v.cache.Purge()
	v.mu.Lock()
	v.cacheHits = 0
	v.cacheMisses = 0
	v.mu.Unlock()
}

func cacheKey(proof []byte, commitment string, st Statement) digest.Digest {
	return digest.SumParts(proof, []byte{0}, []byte(commitment), []byte{0}, st.encode())
}

func reject(ruleID, msg string) error {
	return fault.New(fault.KindVerificationFailed, ruleID, msg)
}

// Check verifies proof and returns the first failed check.
func (v *Verifier) Check(proof []byte, commitment string, st Statement) error {
	root, err := merkle.ParseRootHex(commitment)
	if err != nil {
		return err
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if st.FileLength > uint64(v.maxSize) {
		return reject("EQX-STARK-041", "statement exceeds the configured maximum size")
	}
	sh, err := newShape(st, v.params)
	if err != nil {
		return reject("EQX-STARK-054", "statement exceeds the supported evaluation domain")
	}
	w, err := decodeProof(proof)
	if err != nil {
		return err
	}
	if w.Version != Version {
		return reject("EQX-STARK-042", "proof version mismatch")
	}
	if w.Params != v.params {
		return reject("EQX-STARK-043", "proof parameters do not match")
	}
	if !bytes.Equal(w.Commitment, root[:]) {
		return reject("EQX-STARK-044", "embedded commitment does not match")
	}
	if w.Statement != st {
		return reject("EQX-STARK-045", "embedded statement does not match")
	}
	if len(w.Spots) != int(v.params.SpotChecks) ||
		len(w.Queries) != int(v.params.Queries) ||
		len(w.LayerRoots) != sh.layers-1 ||
		len(w.Final) != sh.blowup {
		return reject("EQX-STARK-046", "proof shape does not match statement")
	}

	traceRoot, err := digest.FromBytes(w.TraceRoot)
	if err != nil {
		return err
	}

	tr := newTranscript("proof")
	tr.absorb("statement", st.encode())
	tr.absorb("params", v.params.encode())
	tr.absorb("commitment", root[:])
	tr.absorb("trace", traceRoot[:])

	spotIdx := make([]uint64, len(w.Spots))
	spotVals := make([]fr.Element, len(w.Spots))
	for j, s := range w.Spots {
		idx := tr.index("spot", uint64(sh.leaves))
		leaf, err := digest.FromBytes(s.Leaf)
		if err != nil {
			return err
		}
		path, err := decodePath(idx, s.Path)
		if err != nil {
			return err
		}
		if !merkle.VerifyInclusion(root, uint64(sh.leaves), idx, leaf, path) {
			return reject("EQX-STARK-047", "spot check leaf is not in the committed tree")
		}
		spotIdx[j] = idx
		spotVals[j] = fromDigest(leaf)
		tr.absorb("spot-leaf", leaf[:])
	}

	alphas := make([]fr.Element, alphaCount(len(spotIdx)))
	for i := range alphas {
		alphas[i] = tr.element("alpha")
	}

	dom, err := newLDEDomain(sh.lde)
	if err != nil {
		return err
	}
	g := pow(dom.Omega, uint64(sh.blowup))
	cons := newConstraints(g, spotIdx, spotVals, alphas)

	layerRoots := make([]digest.Digest, len(w.LayerRoots))
	betas := make([]fr.Element, sh.layers)
	for l := 0; l < sh.layers; l++ {
		betas[l] = tr.element("fri-beta")
		if l+1 == sh.layers {
			break
		}
		lr, err := digest.FromBytes(w.LayerRoots[l])
		if err != nil {
			return err
		}
		layerRoots[l] = lr
		tr.absorb("fri-layer", lr[:])
	}
	final, err := decodeElements(w.Final)
	if err != nil {
		return err
	}
	if !isConstant(final) {
		return reject("EQX-STARK-048", "final FRI layer is not constant")
	}
	tr.absorb("fri-final", w.Final...)

	half := sh.lde / 2
	for _, q := range w.Queries {
		j := int(tr.index("query", uint64(half)))
		if err := v.checkQuery(q, j, sh, dom, cons, traceRoot, layerRoots, betas, final); err != nil {
			return err
		}
	}
	return nil
}

func (v *Verifier) checkQuery(q queryOpening, j int, sh shape, dom domain, cons *constraints, traceRoot digest.Digest, layerRoots []digest.Digest, betas, final []fr.Element) error {
	if len(q.Layers) != len(layerRoots) {
		return reject("EQX-STARK-049", "query opening has the wrong shape")
	}
	half := sh.lde / 2

	// The trace pair holds t at x and -x.
	trace, err := openPair(q.Trace, uint64(j), uint64(half), traceRoot, true)
	if err != nil {
		return err
	}
	x := dom.point(j)
	var negX fr.Element
	negX.Neg(&x)
	d0 := cons.evaluate(x, trace[0])
	d1 := cons.evaluate(negX, trace[1])

	var xInv fr.Element
	xInv.Inverse(&x)
	f := foldPair(d0, d1, xInv, betas[0])

	k := j
	ld := dom.square()
	for l, lo := range q.Layers {
		lh := ld.Size / 2
		pi := k % lh
		vals, err := openPair(lo, uint64(pi), uint64(lh), layerRoots[l], false)
		if err != nil {
			return err
		}
		got := vals[0]
		if k >= lh {
			got = vals[1]
		}
		if !got.Equal(&f) {
			return reject("EQX-STARK-050", "FRI folding is inconsistent")
		}
		px := ld.point(pi)
		xInv.Inverse(&px)
		f = foldPair(vals[0], vals[1], xInv, betas[l+1])
		k = pi
		ld = ld.square()
	}
	if k >= len(final) || !final[k].Equal(&f) {
		return reject("EQX-STARK-051", "final FRI layer is inconsistent")
	}
	return nil
}

// openPair decodes the two field elements of a committed pair and checks
// their leaf at index of a tree with leafCount leaves under root.
func openPair(o opening, index, leafCount uint64, root digest.Digest, trace bool) ([]fr.Element, error) {
	if len(o.Values) != 2 {
		return nil, reject("EQX-STARK-052", "opening has the wrong number of values")
	}
	vals, err := decodeElements(o.Values)
	if err != nil {
		return nil, err
	}
	var leaf digest.Digest
	if trace {
		leaf = traceLeaf(vals[0], vals[1])
	} else {
		leaf = friLeaf(vals[0], vals[1])
	}
	path, err := decodePath(index, o.Path)
	if err != nil {
		return nil, err
	}
	if !merkle.VerifyInclusion(root, leafCount, index, leaf, path) {
		return nil, reject("EQX-STARK-053", "opening failed Merkle authentication")
	}
	return vals, nil
}
