// Package metrics holds the Prometheus instruments for key and proof
// operations. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder groups the equinox instruments registered on one registerer.
type Recorder struct {
	keyOps          *prometheus.CounterVec
	signatures      *prometheus.CounterVec
	proofDuration   prometheus.Histogram
	proofSize       prometheus.Histogram
	proofFailures   prometheus.Counter
	verifications   *prometheus.CounterVec
	verifyCacheHits prometheus.Counter
}

// New builds a Recorder and registers it on reg (or the default registerer if
// nil). Instruments that are already registered are reused.
func New(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		keyOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equinox_key_operations_total",
			Help: "Key store operations by kind and algorithm",
		}, []string{"op", "algorithm"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equinox_signatures_total",
			Help: "Signatures produced by scheme",
		}, []string{"scheme"}),
		proofDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "equinox_proof_generation_ms",
			Help:    "Proof generation latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),
		proofSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "equinox_proof_size_bytes",
			Help:    "Encoded proof size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12),
		}),
		proofFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "equinox_proof_failures_total",
			Help: "Proof generation attempts that returned an error",
		}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "equinox_proof_verifications_total",
			Help: "Proof verifications by result",
		}, []string{"result"}),
		verifyCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "equinox_proof_verify_cache_hits_total",
			Help: "Proof verifications answered from the cache",
		}),
	}

	var err error
	r.keyOps, err = register(reg, r.keyOps)
	if err != nil {
		return nil, err
	}
	r.signatures, err = register(reg, r.signatures)
	if err != nil {
		return nil, err
	}
	r.proofDuration, err = register(reg, r.proofDuration)
	if err != nil {
		return nil, err
	}
	r.proofSize, err = register(reg, r.proofSize)
	if err != nil {
		return nil, err
	}
	r.proofFailures, err = register(reg, r.proofFailures)
	if err != nil {
		return nil, err
	}
	r.verifications, err = register(reg, r.verifications)
	if err != nil {
		return nil, err
	}
	r.verifyCacheHits, err = register(reg, r.verifyCacheHits)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, err
		}
		return existing, nil
	}
	return c, nil
}

// KeyOp counts a key store operation ("generate", "rotate", "import", "reset").
func (r *Recorder) KeyOp(op, algorithm string) {
	if r == nil {
		return
	}
	r.keyOps.WithLabelValues(op, algorithm).Inc()
}

// Signature counts one signature of the given scheme.
func (r *Recorder) Signature(scheme string) {
	if r == nil {
		return
	}
	r.signatures.WithLabelValues(scheme).Inc()
}

// ProofGenerated records a successful proof.
func (r *Recorder) ProofGenerated(d time.Duration, size int) {
	if r == nil {
		return
	}
	r.proofDuration.Observe(float64(d.Milliseconds()))
	r.proofSize.Observe(float64(size))
}

// ProofFailed counts a failed proof generation.
func (r *Recorder) ProofFailed() {
	if r == nil {
		return
	}
	r.proofFailures.Inc()
}

// ProofVerified counts a verification result.
func (r *Recorder) ProofVerified(ok, cached bool) {
	if r == nil {
		return
	}
	result := "rejected"
	if ok {
		result = "accepted"
	}
	r.verifications.WithLabelValues(result).Inc()
	if cached {
		r.verifyCacheHits.Inc()
	}
}
