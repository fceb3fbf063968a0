package keys

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/internal/metrics"
)

// DefaultRotationInterval is how long a key stays current before
// NeedsRotation reports true.
const DefaultRotationInterval = 90 * 24 * time.Hour

// Metadata is derived from the algorithm and kept for display.
type Metadata struct {
	SecurityLevel int `json:"securityLevel"`
}

// KeyPair is the public view of a key record. Secret material never leaves
// the Store through this type.
type KeyPair struct {
	KeyID     string
	Algorithm Algorithm
	Usage     Usage
	PublicKey []byte
	CreatedAt time.Time
	// ExpiresAt is nil for non-expiring keys.
	ExpiresAt *time.Time
	Status    Status
	Metadata  Metadata
}

// Expired reports whether the key has expired at now.
func (k KeyPair) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}

func (k KeyPair) clone() KeyPair {
	out := k
	out.PublicKey = bytes.Clone(k.PublicKey)
	if k.ExpiresAt != nil {
		exp := *k.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

type record struct {
	pair   KeyPair
	secret []byte // nil once archived
}

// Stats summarizes the collection at a point in time.
type Stats struct {
	TotalKeys   int
	ActiveKeys  int // not expired
	ExpiredKeys int
	// NextRotation is nil when there is no current key or it never expires.
	NextRotation *time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRotationInterval sets the key lifetime. Zero makes new keys
// non-expiring.
func WithRotationInterval(d time.Duration) Option {
	return func(s *Store) { s.interval = d }
}

// WithRand sets the entropy source for key generation and key ids.
func WithRand(r io.Reader) Option {
	return func(s *Store) { s.rand = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. Secret material is never logged.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMetrics records key operations on m.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Store) { s.metrics = m }
}

// Store owns the key collection.
//
// Writers (generate, rotate, import, reset) are serialized by writeMu. The
// collection itself is guarded by mu; new keys are computed without holding mu
// and installed in one critical section, so readers never see a half-updated
// current key and a cancelled writer leaves the store untouched.
type Store struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	records []*record
	current int // index into records, -1 when empty

	interval time.Duration
	rand     io.Reader
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Recorder
}

// NewStore returns an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		current:  -1,
		interval: DefaultRotationInterval,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// RotationInterval returns the configured key lifetime.
func (s *Store) RotationInterval() time.Duration { return s.interval }

func (s *Store) newKeyID() (string, error) {
	if s.rand == nil {
		return uuid.NewString(), nil
	}
	id, err := uuid.NewRandomFromReader(s.rand)
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "EQX-RAND-001", "entropy source failed", err)
	}
	return id.String(), nil
}

// newRecord generates a key without touching the collection.
func (s *Store) newRecord(ctx context.Context, alg Algorithm, usage Usage) (*record, error) {
	spec, err := Lookup(alg)
	if err != nil {
		return nil, err
	}
	if _, err := ParseUsage(string(usage)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := s.newKeyID()
	if err != nil {
		return nil, err
	}
	pk, sk, err := generate(spec, s.rand)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		digest.Wipe(sk)
		return nil, err
	}

	created := s.now().UTC()
	pair := KeyPair{
		KeyID:     id,
		Algorithm: alg,
		Usage:     usage,
		PublicKey: pk,
		CreatedAt: created,
		Status:    StatusActive,
		Metadata:  Metadata{SecurityLevel: spec.SecurityLevel},
	}
	if s.interval > 0 {
		exp := created.Add(s.interval)
		pair.ExpiresAt = &exp
	}
	return &record{pair: pair, secret: sk}, nil
}

// install makes rec current and archives the previous current key. Callers
// hold writeMu.
func (s *Store) install(rec *record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current >= 0 {
		old := s.records[s.current]
		old.pair.Status = StatusArchived
		digest.Wipe(old.secret)
		old.secret = nil
	}
	s.records = append(s.records, rec)
	s.current = len(s.records) - 1
}

// GenerateKeyPair creates a key and makes it current. Any previous current key
// is archived.
func (s *Store) GenerateKeyPair(ctx context.Context, alg Algorithm, usage Usage) (KeyPair, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.newRecord(ctx, alg, usage)
	if err != nil {
		return KeyPair{}, err
	}
	s.install(rec)
	s.metrics.KeyOp("generate", string(alg))
	s.log.Info("key generated",
		zap.String("keyId", rec.pair.KeyID),
		zap.String("algorithm", string(alg)),
		zap.String("usage", string(usage)),
	)
	return rec.pair.clone(), nil
}

// RotateKey replaces the current key with a fresh one of the same algorithm
// and usage. The old key stays available for verification.
func (s *Store) RotateKey(ctx context.Context) (KeyPair, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur, ok := s.GetCurrentKey()
	if !ok {
		return KeyPair{}, fault.New(fault.KindNoCurrentKey, "EQX-KEYS-030", "no current key to rotate")
	}
	rec, err := s.newRecord(ctx, cur.Algorithm, cur.Usage)
	if err != nil {
		return KeyPair{}, err
	}
	s.install(rec)
	s.metrics.KeyOp("rotate", string(cur.Algorithm))
	s.log.Info("key rotated",
		zap.String("previousKeyId", cur.KeyID),
		zap.String("keyId", rec.pair.KeyID),
		zap.String("algorithm", string(cur.Algorithm)),
	)
	return rec.pair.clone(), nil
}

// NeedsRotation is true when there is no current key or it has expired.
func (s *Store) NeedsRotation() bool {
	cur, ok := s.GetCurrentKey()
	if !ok {
		return true
	}
	return cur.Expired(s.now())
}

// HasCurrentKey reports whether the store is non-empty.
func (s *Store) HasCurrentKey() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current >= 0
}

// GetCurrentKey returns the current key's public view.
func (s *Store) GetCurrentKey() (KeyPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return KeyPair{}, false
	}
	return s.records[s.current].pair.clone(), true
}

// Keys lists every key in creation order.
func (s *Store) Keys() []KeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KeyPair, len(s.records))
	for i, r := range s.records {
		out[i] = r.pair.clone()
	}
	return out
}

// Key looks up one key by id.
func (s *Store) Key(id string) (KeyPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.pair.KeyID == id {
			return r.pair.clone(), true
		}
	}
	return KeyPair{}, false
}

// SignData signs data with the current key.
func (s *Store) SignData(data []byte) ([]byte, error) {
	sig, _, err := s.SignDataWithKey(data)
	return sig, err
}

// SignDataWithKey signs data with the current key and returns the public view
// of the key that signed, read in the same critical section.
func (s *Store) SignDataWithKey(data []byte) ([]byte, KeyPair, error) {
	_, sig, kp, err := s.SignBound(func(KeyPair) []byte { return data })
	return sig, kp, err
}

// SignBound asks bind for the message to sign given the current key's public
// view, then signs it with that key. Both happen under one read lock, so the
// message can commit to the key that signs it even while keys rotate. bind
// must not call back into the store.
func (s *Store) SignBound(bind func(KeyPair) []byte) (data, sig []byte, kp KeyPair, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current < 0 {
		return nil, nil, KeyPair{}, fault.New(fault.KindNoCurrentKey, "EQX-KEYS-031", "no current key")
	}
	rec := s.records[s.current]
	spec, err := Lookup(rec.pair.Algorithm)
	if err != nil {
		return nil, nil, KeyPair{}, err
	}
	kp = rec.pair.clone()
	data = bind(kp)
	sig, err = signWith(spec, rec.secret, data)
	if err != nil {
		return nil, nil, KeyPair{}, err
	}
	s.metrics.Signature("ml-dsa")
	return data, sig, kp, nil
}

// VerifySignature is the package-level VerifySignature; it does not consult
// the store.
func (s *Store) VerifySignature(data, signature, publicKey []byte) bool {
	return VerifySignature(data, signature, publicKey)
}

// GetKeyStats computes collection statistics at the current time.
func (s *Store) GetKeyStats() Stats {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalKeys: len(s.records)}
	for _, r := range s.records {
		if r.pair.Expired(now) {
			st.ExpiredKeys++
		} else {
			st.ActiveKeys++
		}
	}
	if s.current >= 0 && s.interval > 0 {
		next := s.records[s.current].pair.CreatedAt.Add(s.interval)
		st.NextRotation = &next
	}
	return st
}

// Reset destroys every key and wipes their secrets.
func (s *Store) Reset() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	n := len(s.records)
	for _, r := range s.records {
		digest.Wipe(r.secret)
		r.secret = nil
	}
	s.records = nil
	s.current = -1
	s.mu.Unlock()

	s.metrics.KeyOp("reset", "")
	s.log.Info("key store reset", zap.Int("destroyed", n))
}
