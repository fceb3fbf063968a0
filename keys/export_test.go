package keys

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
)

func populatedStore(t *testing.T) *Store {
	t.Helper()
	s, _ := newTestStore(t)
	ctx := context.Background()
	_, err := s.GenerateKeyPair(ctx, MLDSA44, UsageSigning)
	require.NoError(t, err)
	_, err = s.RotateKey(ctx)
	require.NoError(t, err)
	return s
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := populatedStore(t)
	pw := []byte("correct horse")

	blob, err := src.ExportKeys(ctx, pw)
	require.NoError(t, err)
	require.Greater(t, len(blob), digest.SaltSize+digest.NonceSize+digest.TagSize)

	dst, _ := newTestStore(t)
	require.NoError(t, dst.ImportKeys(ctx, blob, pw))

	require.Equal(t, src.Keys(), dst.Keys())
	require.Equal(t, src.GetKeyStats(), dst.GetKeyStats())
	srcCur, _ := src.GetCurrentKey()
	dstCur, ok := dst.GetCurrentKey()
	require.True(t, ok)
	require.Equal(t, srcCur, dstCur)

	// The imported current key signs, and its signatures verify.
	msg := []byte("after import")
	sig, err := dst.SignData(msg)
	require.NoError(t, err)
	require.True(t, VerifySignature(msg, sig, srcCur.PublicKey))
}

func TestExportUsesFreshSaltAndNonce(t *testing.T) {
	ctx := context.Background()
	s := populatedStore(t)
	a, err := s.ExportKeys(ctx, []byte("pw"))
	require.NoError(t, err)
	b, err := s.ExportKeys(ctx, []byte("pw"))
	require.NoError(t, err)
	require.NotEqual(t, a[:digest.SaltSize], b[:digest.SaltSize])
	require.NotEqual(t, a[digest.SaltSize:digest.SaltSize+digest.NonceSize], b[digest.SaltSize:digest.SaltSize+digest.NonceSize])
}

func TestImportWrongPasswordLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	src := populatedStore(t)
	blob, err := src.ExportKeys(ctx, []byte("pw1"))
	require.NoError(t, err)

	dst, _ := newTestStore(t)
	before, err := dst.GenerateKeyPair(ctx, MLDSA44, UsageSigning)
	require.NoError(t, err)

	err = dst.ImportKeys(ctx, blob, []byte("pw2"))
	require.True(t, fault.IsKind(err, fault.KindDecryption), "got %v", err)

	// Tampering yields the same uniform error.
	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-20] ^= 0x01
	err2 := dst.ImportKeys(ctx, tampered, []byte("pw1"))
	require.True(t, fault.IsKind(err2, fault.KindDecryption), "got %v", err2)
	require.Equal(t, err.Error(), err2.Error())

	cur, ok := dst.GetCurrentKey()
	require.True(t, ok)
	require.Equal(t, before.KeyID, cur.KeyID)
	require.Len(t, dst.Keys(), 1)
}

func TestImportRejectsMalformedInput(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	err := s.ImportKeys(ctx, make([]byte, 10), []byte("pw"))
	require.True(t, fault.IsKind(err, fault.KindInvalidFormat), "got %v", err)

	_, err = s.ExportKeys(ctx, nil)
	require.True(t, fault.IsKind(err, fault.KindInvalidFormat), "got %v", err)
	err = s.ImportKeys(ctx, make([]byte, 64), nil)
	require.True(t, fault.IsKind(err, fault.KindInvalidFormat), "got %v", err)
}

// sealDocument encrypts an arbitrary document the way ExportKeys does.
func sealDocument(t *testing.T, doc any, pw []byte) []byte {
	t.Helper()
	plain, err := json.Marshal(doc)
	require.NoError(t, err)
	salt, err := digest.RandomBytes(nil, digest.SaltSize)
	require.NoError(t, err)
	nonce, err := digest.RandomBytes(nil, digest.NonceSize)
	require.NoError(t, err)
	out := append(append([]byte(nil), salt...), nonce...)
	out, err = digest.Seal(out, digest.DeriveKey(pw, salt), nonce, plain, salt)
	require.NoError(t, err)
	return out
}

func TestImportValidatesAuthenticatedDocument(t *testing.T) {
	ctx := context.Background()
	src := populatedStore(t)
	pw := []byte("pw")
	blob, err := src.ExportKeys(ctx, pw)
	require.NoError(t, err)

	key := digest.DeriveKey(pw, blob[:digest.SaltSize])
	plain, err := digest.Open(key, blob[digest.SaltSize:digest.SaltSize+digest.NonceSize], blob[digest.SaltSize+digest.NonceSize:], blob[:digest.SaltSize])
	require.NoError(t, err)

	mutate := func(f func(doc *exportDocument)) []byte {
		var doc exportDocument
		require.NoError(t, json.Unmarshal(plain, &doc))
		f(&doc)
		return sealDocument(t, doc, pw)
	}

	cases := map[string]func(doc *exportDocument){
		"unknown algorithm": func(doc *exportDocument) { doc.Keys[1].Algorithm = "Dilithium2" },
		"short public key":  func(doc *exportDocument) { doc.Keys[1].PublicKey = doc.Keys[1].PublicKey[:20] },
		"two active keys":   func(doc *exportDocument) { doc.Keys[0].Status = string(StatusActive) },
		"no active key":     func(doc *exportDocument) { doc.Keys[1].Status = string(StatusArchived) },
		"wrong current id":  func(doc *exportDocument) { doc.CurrentKeyID = doc.Keys[0].KeyID },
		"bad version":       func(doc *exportDocument) { doc.Version = 2 },
		"mismatched secret": func(doc *exportDocument) {
			other, _, err := DeriveKeyPair(MLDSA44, make([]byte, SeedSize))
			require.NoError(t, err)
			doc.Keys[1].PublicKey = hex.EncodeToString(other)
		},
		"bad usage": func(doc *exportDocument) { doc.Keys[1].Usage = "decoration" },
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			dst, _ := newTestStore(t)
			err := dst.ImportKeys(ctx, mutate(f), pw)
			require.True(t, fault.IsKind(err, fault.KindInvalidFormat), "got %v", err)
			require.False(t, dst.HasCurrentKey())
		})
	}
}

func TestExportEmptyStore(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	blob, err := s.ExportKeys(ctx, []byte("pw"))
	require.NoError(t, err)

	dst := populatedStore(t)
	require.NoError(t, dst.ImportKeys(ctx, blob, []byte("pw")))
	require.False(t, dst.HasCurrentKey())
	require.Empty(t, dst.Keys())
}
