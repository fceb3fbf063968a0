package stark

import (
	"context"
	"io"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"go.uber.org/zap"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/internal/metrics"
	"xdao.co/equinox/merkle"
)

// DefaultMaxInputSize caps the file size a prover accepts.
const DefaultMaxInputSize = 16 << 20

// ProverOptions configures a Prover. Zero values select defaults.
type ProverOptions struct {
	Params       Params
	MaxInputSize int64
	// Rand supplies blinding rows. Nil means crypto/rand.
	Rand    io.Reader
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Prover produces proofs that a Merkle root commits to bytes the prover knows.
type Prover struct {
	params  Params
	maxSize int64
	rand    io.Reader
	log     *zap.Logger
	metrics *metrics.Recorder
}

// NewProver validates opts and returns a Prover.
func NewProver(opts ProverOptions) (*Prover, error) {
	p := &Prover{
		params:  opts.Params,
		maxSize: opts.MaxInputSize,
		rand:    opts.Rand,
		log:     opts.Logger,
		metrics: opts.Metrics,
	}
	if p.params == (Params{}) {
		p.params = DefaultParams()
	}
	if err := p.params.Validate(); err != nil {
		return nil, err
	}
	if p.maxSize <= 0 {
		p.maxSize = DefaultMaxInputSize
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	return p, nil
}

// Params returns the security parameters in use.
func (p *Prover) Params() Params { return p.params }

// GenerateProof proves knowledge of data under its Merkle root. Every failure
// is a ProofGenerationError; callers may proceed without a proof.
func (p *Prover) GenerateProof(ctx context.Context, data []byte, st Statement) (*Artifact, error) {
	start := time.Now()
	art, err := p.generate(ctx, data, st)
	if err != nil {
		p.metrics.ProofFailed()
		p.log.Debug("proof generation failed", zap.Int("size", len(data)), zap.Error(err))
		if fault.IsKind(err, fault.KindProofGeneration) {
			return nil, err
		}
		return nil, fault.Wrap(fault.KindProofGeneration, "EQX-STARK-030", "proof generation failed", err)
	}
	p.metrics.ProofGenerated(time.Since(start), art.Size())
	p.log.Info("proof generated",
		zap.String("commitment", art.Commitment),
		zap.Uint64("fileLength", st.FileLength),
		zap.Int("proofBytes", art.Size()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return art, nil
}

func (p *Prover) generate(ctx context.Context, data []byte, st Statement) (*Artifact, error) {
	if int64(len(data)) > p.maxSize {
		return nil, fault.New(fault.KindProofGeneration, "EQX-STARK-031", "input exceeds the configured maximum proof size")
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if st.FileLength != uint64(len(data)) {
		return nil, fault.New(fault.KindProofGeneration, "EQX-STARK-032", "statement length does not match data")
	}
	sh, err := newShape(st, p.params)
	if err != nil {
		return nil, err
	}

	tree, err := merkle.BuildContext(ctx, data, int(st.ChunkSize))
	if err != nil {
		return nil, err
	}
	root := tree.Root()

	tr := newTranscript("proof")
	tr.absorb("statement", st.encode())
	tr.absorb("params", p.params.encode())
	tr.absorb("commitment", root[:])

	// Trace.
	t := make([]fr.Element, sh.rows)
	for i, leaf := range tree.Leaves() {
		t[i] = fromDigest(leaf)
	}
	blind, err := digest.RandomBytes(p.rand, 32*(sh.rows-sh.leaves))
	if err != nil {
		return nil, err
	}
	for i := sh.leaves; i < sh.rows; i++ {
		off := 32 * (i - sh.leaves)
		t[i].SetBytes(blind[off : off+32])
	}
	digest.Wipe(blind)

	// Low-degree extension and trace commitment.
	dom, err := newLDEDomain(sh.lde)
	if err != nil {
		return nil, err
	}
	g := pow(dom.Omega, uint64(sh.blowup))
	tv := extend(t, g, dom)
	traceTree, err := commitTrace(tv)
	if err != nil {
		return nil, err
	}
	traceRoot := traceTree.Root()
	tr.absorb("trace", traceRoot[:])
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Spot checks against the file tree.
	spotIdx := make([]uint64, p.params.SpotChecks)
	spotVals := make([]fr.Element, p.params.SpotChecks)
	spots := make([]spotOpening, p.params.SpotChecks)
	for j := range spotIdx {
		idx := tr.index("spot", uint64(sh.leaves))
		leaf := tree.Leaves()[idx]
		path, err := tree.ProveInclusion(int(idx))
		if err != nil {
			return nil, err
		}
		spotIdx[j] = idx
		spotVals[j] = fromDigest(leaf)
		spots[j] = spotOpening{Leaf: leaf.Bytes(), Path: encodePath(path)}
		tr.absorb("spot-leaf", leaf[:])
	}

	alphas := make([]fr.Element, alphaCount(len(spotIdx)))
	for i := range alphas {
		alphas[i] = tr.element("alpha")
	}
	cons := newConstraints(g, spotIdx, spotVals, alphas)
	layer := cons.composeLDE(dom.points(), tv)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// FRI.
	layerTrees := make([]*merkle.Tree, 0, sh.layers-1)
	layerVals := make([][]fr.Element, 0, sh.layers-1)
	layerRoots := make([][]byte, 0, sh.layers-1)
	ld := dom
	for l := 0; l < sh.layers; l++ {
		beta := tr.element("fri-beta")
		layer = foldLayer(layer, ld, beta)
		ld = ld.square()
		if l+1 == sh.layers {
			break
		}
		lt, err := commitLayer(layer)
		if err != nil {
			return nil, err
		}
		lr := lt.Root()
		tr.absorb("fri-layer", lr[:])
		layerTrees = append(layerTrees, lt)
		layerVals = append(layerVals, layer)
		layerRoots = append(layerRoots, lr.Bytes())
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	final := layer
	if !isConstant(final) {
		return nil, fault.New(fault.KindProofGeneration, "EQX-STARK-033", "composition is not low degree")
	}
	finalEnc := encodeElements(final)
	tr.absorb("fri-final", finalEnc...)

	// Queries.
	half := sh.lde / 2
	queries := make([]queryOpening, p.params.Queries)
	for q := range queries {
		j := int(tr.index("query", uint64(half)))
		path, err := traceTree.ProveInclusion(j)
		if err != nil {
			return nil, err
		}
		qo := queryOpening{Trace: opening{
			Values: encodeElements([]fr.Element{tv[j], tv[j+half]}),
			Path:   encodePath(path),
		}}
		k := j
		for li, lt := range layerTrees {
			vals := layerVals[li]
			lh := len(vals) / 2
			pi := k % lh
			path, err := lt.ProveInclusion(pi)
			if err != nil {
				return nil, err
			}
			qo.Layers = append(qo.Layers, opening{
				Values: encodeElements([]fr.Element{vals[pi], vals[pi+lh]}),
				Path:   encodePath(path),
			})
			k = pi
		}
		queries[q] = qo
	}

	wire := &proofWire{
		Version:    Version,
		Params:     p.params,
		Commitment: root.Bytes(),
		Statement:  st,
		TraceRoot:  traceRoot.Bytes(),
		Spots:      spots,
		LayerRoots: layerRoots,
		Final:      finalEnc,
		Queries:    queries,
	}
	proof, err := encodeProof(wire)
	if err != nil {
		return nil, err
	}
	return &Artifact{Proof: proof, Commitment: root.Hex(), Statement: st}, nil
}
