// Package hybrid produces signatures that pair a recoverable secp256k1 ECDSA
// signature with an ML-DSA signature over the same bytes. A hybrid signature
// is valid only when both halves verify.
package hybrid

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/internal/metrics"
	"xdao.co/equinox/keys"
	"xdao.co/equinox/merkle"
	"xdao.co/equinox/stark"
)

// KeyStore is the part of keys.Store the signer borrows keys from.
type KeyStore interface {
	HasCurrentKey() bool
	GetCurrentKey() (keys.KeyPair, bool)
	GenerateKeyPair(ctx context.Context, alg keys.Algorithm, usage keys.Usage) (keys.KeyPair, error)
	SignBound(bind func(keys.KeyPair) []byte) (data, sig []byte, kp keys.KeyPair, err error)
	Key(id string) (keys.KeyPair, bool)
	Reset()
}

// Prover generates the optional proof attached to a file signature.
type Prover interface {
	GenerateProof(ctx context.Context, data []byte, st stark.Statement) (*stark.Artifact, error)
}

// Option configures a Signer.
type Option func(*Signer)

// WithAlgorithm sets the algorithm SetupQuantumKeys generates.
func WithAlgorithm(a keys.Algorithm) Option { return func(s *Signer) { s.algorithm = a } }

// WithMinSecurityLevel refuses to sign with a post-quantum key weaker than bits.
func WithMinSecurityLevel(bits int) Option { return func(s *Signer) { s.minLevel = bits } }

// WithProver sets the proof generator used by SignFile.
func WithProver(p Prover) Option { return func(s *Signer) { s.prover = p } }

// WithChunkSize sets the Merkle chunk size used by SignFile.
func WithChunkSize(n int) Option { return func(s *Signer) { s.chunkSize = n } }

// WithRand sets the entropy source used for nonces.
func WithRand(r io.Reader) Option { return func(s *Signer) { s.rand = r } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Signer) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Signer) { s.log = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option { return func(s *Signer) { s.metrics = m } }

// Signer signs with a classical identity it owns and a post-quantum key it
// borrows from a KeyStore for the duration of each call.
type Signer struct {
	store     KeyStore
	classical *ClassicalKey

	algorithm keys.Algorithm
	minLevel  int
	prover    Prover
	chunkSize int
	rand      io.Reader
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics.Recorder

	setupMu sync.Mutex
	counter atomic.Uint64
}

// NewSigner returns a signer over store using classical as its ECDSA identity.
func NewSigner(store KeyStore, classical *ClassicalKey, opts ...Option) (*Signer, error) {
	if store == nil || classical == nil {
		return nil, fault.New(fault.KindInternal, "EQX-HYBRID-020", "signer needs a key store and a classical key")
	}
	s := &Signer{
		store:     store,
		classical: classical,
		algorithm: keys.DefaultAlgorithm,
		chunkSize: merkle.DefaultChunkSize,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := keys.Lookup(s.algorithm); err != nil {
		return nil, err
	}
	if err := merkle.CheckChunkSize(s.chunkSize); err != nil {
		return nil, err
	}
	return s, nil
}

// Address is the classical signer address.
func (s *Signer) Address() string { return s.classical.Address() }

// SetupQuantumKeys generates a signing key when the store has none. Calling it
// again is a no-op.
func (s *Signer) SetupQuantumKeys(ctx context.Context) error {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	if s.store.HasCurrentKey() {
		return nil
	}
	kp, err := s.store.GenerateKeyPair(ctx, s.algorithm, keys.UsageSigning)
	if err != nil {
		return err
	}
	s.log.Info("quantum keys initialized", zap.String("key_id", kp.KeyID), zap.String("algorithm", kp.Algorithm.String()))
	return nil
}

// ResetQuantumKeys destroys every post-quantum key in the store.
func (s *Signer) ResetQuantumKeys() {
	s.setupMu.Lock()
	defer s.setupMu.Unlock()
	s.store.Reset()
	s.log.Warn("quantum keys reset")
}

// SignerData describes the signer's public identity.
type SignerData struct {
	Address              string         `json:"address"`
	HasPQKeys            bool           `json:"hasPQKeys"`
	PostQuantumPublicKey []byte         `json:"postQuantumPublicKey,omitempty"`
	Algorithm            keys.Algorithm `json:"algorithm,omitempty"`
	KeyID                string         `json:"keyId,omitempty"`
}

// GetSignerData reports the classical address and the current post-quantum
// public key, if any.
func (s *Signer) GetSignerData() SignerData {
	d := SignerData{Address: s.classical.Address()}
	if kp, ok := s.store.GetCurrentKey(); ok {
		d.HasPQKeys = true
		d.PostQuantumPublicKey = kp.PublicKey
		d.Algorithm = kp.Algorithm
		d.KeyID = kp.KeyID
	}
	return d
}

// GetNonce returns a fresh hex nonce: counter || unix nanos || 16 random bytes.
func (s *Signer) GetNonce() (string, error) {
	random, err := digest.RandomBytes(s.rand, 16)
	if err != nil {
		return "", err
	}
	b := make([]byte, 0, 32)
	b = binary.BigEndian.AppendUint64(b, s.counter.Add(1))
	b = binary.BigEndian.AppendUint64(b, uint64(s.now().UnixNano()))
	b = append(b, random...)
	return hex.EncodeToString(b), nil
}

// SignData signs message under nonce with both keys.
func (s *Signer) SignData(message []byte, nonce string) (*Signature, error) {
	if nonce == "" {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-HYBRID-021", "nonce must not be empty")
	}
	input, pq, kp, err := s.store.SignBound(func(k keys.KeyPair) []byte {
		return signedInput(k.Algorithm, k.PublicKey, nonce, message)
	})
	if err != nil {
		if fault.IsKind(err, fault.KindNoCurrentKey) {
			return nil, fault.Wrap(fault.KindKeysNotInitialized, "EQX-HYBRID-022", "quantum keys are not initialized", err)
		}
		return nil, err
	}
	if s.minLevel > 0 && !kp.Algorithm.Meets(s.minLevel) {
		return nil, fault.New(fault.KindUnsupportedAlgorithm, "EQX-HYBRID-023", "current key is below the minimum security level")
	}

	sig := &Signature{
		Version:              SignatureVersion,
		Algorithm:            kp.Algorithm,
		KeyID:                kp.KeyID,
		Nonce:                nonce,
		Address:              s.classical.Address(),
		ClassicalSignature:   s.classical.sign(digest.Keccak256(input)),
		PostQuantumSignature: pq,
		PublicKey:            kp.PublicKey,
	}
	s.metrics.Signature("hybrid")
	return sig, nil
}

// Verify checks sig over message. An empty address means a signature by this
// signer: the classical half must be this signer's and the post-quantum key
// must be one the store holds under sig.KeyID. A key the store no longer
// knows fails the post-quantum component.
func (s *Signer) Verify(message []byte, sig *Signature, address string) Verification {
	if address != "" {
		return Verify(message, sig, address)
	}
	// An empty, non-nil key pins to nothing a valid signature can carry.
	want := Expected{Address: s.classical.Address(), PublicKey: []byte{}}
	if sig != nil {
		if kp, ok := s.store.Key(sig.KeyID); ok {
			want.PublicKey = kp.PublicKey
		}
	}
	return VerifyExpected(message, sig, want)
}
