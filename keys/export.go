package keys

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
)

// ExportVersion is the version of the plaintext export document.
const ExportVersion = 1

// minBlobSize is salt || nonce || tag with an empty ciphertext.
const minBlobSize = digest.SaltSize + digest.NonceSize + digest.TagSize

type exportDocument struct {
	Version      int         `json:"version"`
	CurrentKeyID string      `json:"currentKeyId"`
	Keys         []exportKey `json:"keys"`
}

type exportKey struct {
	KeyID     string     `json:"keyId"`
	Algorithm string     `json:"algorithm"`
	Usage     string     `json:"usage"`
	Status    string     `json:"status"`
	PublicKey string     `json:"publicKey"`
	SecretKey string     `json:"secretKey,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Metadata  Metadata   `json:"metadata"`
}

// snapshot serializes the collection under the read lock.
func (s *Store) snapshot() ([]byte, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := exportDocument{Version: ExportVersion, Keys: make([]exportKey, 0, len(s.records))}
	if s.current >= 0 {
		doc.CurrentKeyID = s.records[s.current].pair.KeyID
	}
	for _, r := range s.records {
		doc.Keys = append(doc.Keys, exportKey{
			KeyID:     r.pair.KeyID,
			Algorithm: string(r.pair.Algorithm),
			Usage:     string(r.pair.Usage),
			Status:    string(r.pair.Status),
			PublicKey: hex.EncodeToString(r.pair.PublicKey),
			SecretKey: hex.EncodeToString(r.secret),
			CreatedAt: r.pair.CreatedAt,
			ExpiresAt: r.pair.ExpiresAt,
			Metadata:  r.pair.Metadata,
		})
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, 0, fault.Wrap(fault.KindInternal, "EQX-EXPORT-001", "export encoding failed", err)
	}
	return b, len(doc.Keys), nil
}

// ExportKeys encrypts the whole collection under password. The output layout
// is salt(16) || nonce(12) || ciphertext || tag(16); salt and nonce are fresh
// on every call.
func (s *Store) ExportKeys(ctx context.Context, password []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, fault.New(fault.KindInvalidFormat, "EQX-EXPORT-002", "password must not be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plain, n, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	defer digest.Wipe(plain)

	salt, err := digest.RandomBytes(s.rand, digest.SaltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := digest.RandomBytes(s.rand, digest.NonceSize)
	if err != nil {
		return nil, err
	}
	key := digest.DeriveKey(password, salt)
	defer digest.Wipe(key)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, minBlobSize+len(plain))
	out = append(out, salt...)
	out = append(out, nonce...)
	out, err = digest.Seal(out, key, nonce, plain, salt)
	if err != nil {
		return nil, err
	}
	s.log.Info("keys exported", zap.Int("keys", n))
	return out, nil
}

// ImportKeys replaces the whole collection with the contents of blob. On any
// error the store is unchanged. A wrong password and a tampered blob produce
// the same DecryptionError.
func (s *Store) ImportKeys(ctx context.Context, blob, password []byte) error {
	if len(password) == 0 {
		return fault.New(fault.KindInvalidFormat, "EQX-EXPORT-002", "password must not be empty")
	}
	if len(blob) < minBlobSize {
		return fault.New(fault.KindInvalidFormat, "EQX-EXPORT-003", "export blob too short")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	salt := blob[:digest.SaltSize]
	nonce := blob[digest.SaltSize : digest.SaltSize+digest.NonceSize]
	sealed := blob[digest.SaltSize+digest.NonceSize:]

	key := digest.DeriveKey(password, salt)
	defer digest.Wipe(key)
	if err := ctx.Err(); err != nil {
		return err
	}
	plain, err := digest.Open(key, nonce, sealed, salt)
	if err != nil {
		return err
	}
	defer digest.Wipe(plain)

	records, current, err := parseDocument(plain)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	for _, r := range s.records {
		digest.Wipe(r.secret)
		r.secret = nil
	}
	s.records = records
	s.current = current
	s.mu.Unlock()

	s.metrics.KeyOp("import", "")
	s.log.Info("keys imported", zap.Int("keys", len(records)))
	return nil
}

func invalidExport(msg string) error {
	return fault.New(fault.KindInvalidFormat, "EQX-EXPORT-004", msg)
}

// parseDocument validates an authenticated export document and builds the
// records it describes.
func parseDocument(plain []byte) ([]*record, int, error) {
	var doc exportDocument
	dec := json.NewDecoder(bytes.NewReader(plain))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, -1, fault.Wrap(fault.KindInvalidFormat, "EQX-EXPORT-005", "malformed export document", err)
	}
	if doc.Version != ExportVersion {
		return nil, -1, invalidExport("unsupported export version")
	}

	records := make([]*record, 0, len(doc.Keys))
	current := -1
	seen := make(map[string]bool, len(doc.Keys))
	fail := func(err error) ([]*record, int, error) {
		for _, r := range records {
			digest.Wipe(r.secret)
		}
		return nil, -1, err
	}

	for _, k := range doc.Keys {
		if k.KeyID == "" || seen[k.KeyID] {
			return fail(invalidExport("missing or duplicate key id"))
		}
		seen[k.KeyID] = true

		spec, err := Lookup(Algorithm(k.Algorithm))
		if err != nil {
			return fail(fault.Wrap(fault.KindInvalidFormat, "EQX-EXPORT-006", "unknown algorithm in export", err))
		}
		usage, err := ParseUsage(k.Usage)
		if err != nil {
			return fail(err)
		}
		status := Status(k.Status)
		if status != StatusActive && status != StatusArchived {
			return fail(invalidExport("unknown key status"))
		}
		pk, err := hex.DecodeString(k.PublicKey)
		if err != nil || len(pk) != spec.PublicKeySize {
			return fail(invalidExport("public key has the wrong length"))
		}
		var sk []byte
		if k.SecretKey != "" {
			sk, err = hex.DecodeString(k.SecretKey)
			if err != nil || len(sk) != spec.SecretKeySize {
				digest.Wipe(sk)
				return fail(invalidExport("secret key has the wrong length"))
			}
			derived, err := publicFromSecret(spec, sk)
			if err != nil || !bytes.Equal(derived, pk) {
				digest.Wipe(sk)
				return fail(invalidExport("secret key does not match public key"))
			}
		}
		if status == StatusActive {
			if current >= 0 {
				digest.Wipe(sk)
				return fail(invalidExport("more than one active key"))
			}
			if sk == nil {
				return fail(invalidExport("active key has no secret"))
			}
			if k.KeyID != doc.CurrentKeyID {
				digest.Wipe(sk)
				return fail(invalidExport("active key is not the declared current key"))
			}
			current = len(records)
		}
		// Archived keys carry no secret in this store.
		if status == StatusArchived {
			digest.Wipe(sk)
			sk = nil
		}
		records = append(records, &record{
			pair: KeyPair{
				KeyID:     k.KeyID,
				Algorithm: spec.Algorithm,
				Usage:     usage,
				PublicKey: pk,
				CreatedAt: k.CreatedAt,
				ExpiresAt: k.ExpiresAt,
				Status:    status,
				Metadata:  Metadata{SecurityLevel: spec.SecurityLevel},
			},
			secret: sk,
		})
	}
	if len(records) > 0 && current < 0 {
		return fail(invalidExport("no active key"))
	}
	if len(records) == 0 && doc.CurrentKeyID != "" {
		return fail(invalidExport("current key id without keys"))
	}
	return records, current, nil
}
