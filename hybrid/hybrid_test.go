package hybrid

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdao.co/equinox/fault"
	"xdao.co/equinox/keys"
	"xdao.co/equinox/merkle"
	"xdao.co/equinox/stark"
)

var testNow = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

func testClock() time.Time { return testNow }

func newTestSigner(t *testing.T, opts ...Option) (*Signer, *keys.Store) {
	t.Helper()
	store := keys.NewStore(keys.WithClock(testClock))
	ck, err := DeriveClassicalKey(bytes.Repeat([]byte{0x42}, 32), "alice")
	require.NoError(t, err)
	s, err := NewSigner(store, ck, append([]Option{WithClock(testClock)}, opts...)...)
	require.NoError(t, err)
	return s, store
}

func TestKnownPrivateKeyAddress(t *testing.T) {
	sk := make([]byte, 32)
	sk[31] = 1
	k, err := ClassicalKeyFromBytes(sk)
	require.NoError(t, err)
	require.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", k.Address())
}

func TestChecksumAddressVectors(t *testing.T) {
	for _, want := range []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	} {
		raw, err := hex.DecodeString(strings.ToLower(want[2:]))
		require.NoError(t, err)
		require.Equal(t, want, ChecksumAddress(raw))

		_, err = ParseAddress(want)
		require.NoError(t, err)
		_, err = ParseAddress(strings.ToLower(want))
		require.NoError(t, err)
	}

	bad := "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	_, err := ParseAddress(bad)
	require.True(t, fault.IsKind(err, fault.KindInvalidFormat), "got %v", err)
	_, err = ParseAddress("5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.Error(t, err)
}

func TestDeriveClassicalKey(t *testing.T) {
	root := bytes.Repeat([]byte{7}, 32)
	a1, err := DeriveClassicalKey(root, "alice")
	require.NoError(t, err)
	a2, err := DeriveClassicalKey(root, "alice")
	require.NoError(t, err)
	b, err := DeriveClassicalKey(root, "bob")
	require.NoError(t, err)
	require.Equal(t, a1.Address(), a2.Address())
	require.NotEqual(t, a1.Address(), b.Address())

	_, err = DeriveClassicalKey(root, "")
	require.Error(t, err)

	again, err := ClassicalKeyFromBytes(a1.Bytes())
	require.NoError(t, err)
	require.Equal(t, a1.Address(), again.Address())
}

func TestHybridSignatureScenario(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)

	_, err := s.SignData([]byte("hello"), "n1")
	require.True(t, fault.IsKind(err, fault.KindKeysNotInitialized), "got %v", err)

	require.NoError(t, s.SetupQuantumKeys(ctx))
	first := s.GetSignerData()
	require.True(t, first.HasPQKeys)
	require.Equal(t, keys.DefaultAlgorithm, first.Algorithm)

	// Idempotent.
	require.NoError(t, s.SetupQuantumKeys(ctx))
	require.Equal(t, first.KeyID, s.GetSignerData().KeyID)

	msg := []byte("Hybrid quantum-resistant signature test")
	nonce, err := s.GetNonce()
	require.NoError(t, err)
	sig, err := s.SignData(msg, nonce)
	require.NoError(t, err)
	require.Len(t, sig.ClassicalSignature, ClassicalSignatureSize)
	require.Equal(t, s.Address(), sig.Address)
	require.Equal(t, first.PostQuantumPublicKey, sig.PublicKey)

	v := s.Verify(msg, sig, "")
	require.True(t, v.Valid)
	require.True(t, v.ClassicalValid)
	require.True(t, v.PostQuantumValid)
	require.Empty(t, v.Failed)

	other := Verify([]byte("Hybrid quantum-resistant signature tesT"), sig, s.Address())
	require.False(t, other.Valid)
	require.ElementsMatch(t, []string{ComponentClassical, ComponentPostQuantum}, other.Failed)

	s.ResetQuantumKeys()
	require.False(t, s.GetSignerData().HasPQKeys)
	_, err = s.SignData(msg, nonce)
	require.True(t, fault.IsKind(err, fault.KindKeysNotInitialized), "got %v", err)

	// Old signatures still verify; they carry their own public key.
	require.True(t, Verify(msg, sig, s.Address()).Valid)
}

func TestVerifyReportsFailedComponent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)
	require.NoError(t, s.SetupQuantumKeys(ctx))
	msg := []byte("component")
	sig, err := s.SignData(msg, "nonce")
	require.NoError(t, err)

	pq := *sig
	pq.PostQuantumSignature = append([]byte(nil), sig.PostQuantumSignature...)
	pq.PostQuantumSignature[10] ^= 0x01
	v := Verify(msg, &pq, "")
	require.False(t, v.Valid)
	require.True(t, v.ClassicalValid)
	require.Equal(t, []string{ComponentPostQuantum}, v.Failed)

	cl := *sig
	cl.ClassicalSignature = append([]byte(nil), sig.ClassicalSignature...)
	cl.ClassicalSignature[5] ^= 0x01
	v = Verify(msg, &cl, "")
	require.False(t, v.Valid)
	require.True(t, v.PostQuantumValid)
	require.Equal(t, []string{ComponentClassical}, v.Failed)

	stranger, err := GenerateClassicalKey(nil)
	require.NoError(t, err)
	v = Verify(msg, sig, stranger.Address())
	require.False(t, v.ClassicalValid)
	require.True(t, v.PostQuantumValid)

	// The nonce is part of the signed bytes.
	renonced := *sig
	renonced.Nonce = "other"
	require.False(t, Verify(msg, &renonced, "").Valid)

	// Algorithm label must match the public key.
	relabeled := *sig
	relabeled.Algorithm = keys.MLDSA87
	require.False(t, Verify(msg, &relabeled, "").PostQuantumValid)

	require.False(t, Verify(msg, nil, "").Valid)
}

func TestSignedInputIsUnambiguous(t *testing.T) {
	pk := []byte{1, 2, 3}
	a := signedInput(keys.MLDSA65, pk, "ab", []byte("c"))
	b := signedInput(keys.MLDSA65, pk, "a", []byte("bc"))
	require.NotEqual(t, a, b)
	require.True(t, bytes.HasPrefix(a, []byte(Domain)))

	require.NotEqual(t, a, signedInput(keys.MLDSA87, pk, "ab", []byte("c")))
	require.NotEqual(t, a, signedInput(keys.MLDSA65, []byte{1, 2, 4}, "ab", []byte("c")))
}

func TestSwappedPostQuantumKeyIsRejected(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)
	require.NoError(t, s.SetupQuantumKeys(ctx))
	msg := []byte("swap")
	sig, err := s.SignData(msg, "n")
	require.NoError(t, err)
	honest := sig.PublicKey

	pk, sk, err := keys.DeriveKeyPair(keys.MLDSA65, bytes.Repeat([]byte{0x09}, keys.SeedSize))
	require.NoError(t, err)

	// A foreign key signing the bytes the honest key signed.
	swapped := *sig
	swapped.Algorithm = keys.MLDSA65
	swapped.PublicKey = pk
	swapped.PostQuantumSignature, err = keys.Sign(keys.MLDSA65, sk, signedInput(sig.Algorithm, honest, sig.Nonce, msg))
	require.NoError(t, err)
	v := Verify(msg, &swapped, "")
	require.False(t, v.Valid)
	require.False(t, v.ClassicalValid)

	// A foreign key signing bytes that name itself: its own half checks out,
	// but the classical half committed to the honest key.
	swapped.PostQuantumSignature, err = keys.Sign(keys.MLDSA65, sk, signedInput(keys.MLDSA65, pk, sig.Nonce, msg))
	require.NoError(t, err)
	v = Verify(msg, &swapped, "")
	require.False(t, v.Valid)
	require.False(t, v.ClassicalValid)
	require.True(t, v.PostQuantumValid)

	// Pinning rejects the foreign half regardless of the classical half.
	v = VerifyExpected(msg, &swapped, Expected{PublicKey: honest})
	require.False(t, v.PostQuantumValid)
	require.True(t, VerifyExpected(msg, sig, Expected{PublicKey: honest}).Valid)

	require.True(t, s.Verify(msg, sig, "").Valid)
	require.False(t, s.Verify(msg, &swapped, "").PostQuantumValid)
}

func TestSignerVerifyPinsStoreKey(t *testing.T) {
	ctx := context.Background()
	s, store := newTestSigner(t, WithAlgorithm(keys.MLDSA44))
	require.NoError(t, s.SetupQuantumKeys(ctx))
	msg := []byte("rotate")
	sig, err := s.SignData(msg, "n")
	require.NoError(t, err)

	_, err = store.RotateKey(ctx)
	require.NoError(t, err)
	require.True(t, s.Verify(msg, sig, "").Valid, "archived keys keep verifying")

	unknown := *sig
	unknown.KeyID = "not-in-store"
	v := s.Verify(msg, &unknown, "")
	require.False(t, v.PostQuantumValid)
	require.True(t, v.ClassicalValid)
}

func TestSignDataRejectsEmptyNonce(t *testing.T) {
	s, _ := newTestSigner(t)
	require.NoError(t, s.SetupQuantumKeys(context.Background()))
	_, err := s.SignData([]byte("m"), "")
	require.True(t, fault.IsKind(err, fault.KindInvalidFormat), "got %v", err)
}

func TestMinSecurityLevel(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t, WithAlgorithm(keys.MLDSA44), WithMinSecurityLevel(192))
	require.NoError(t, s.SetupQuantumKeys(ctx))
	_, err := s.SignData([]byte("m"), "n")
	require.True(t, fault.IsKind(err, fault.KindUnsupportedAlgorithm), "got %v", err)

	strong, _ := newTestSigner(t, WithAlgorithm(keys.MLDSA87), WithMinSecurityLevel(192))
	require.NoError(t, strong.SetupQuantumKeys(ctx))
	_, err = strong.SignData([]byte("m"), "n")
	require.NoError(t, err)
}

func TestNewSignerValidation(t *testing.T) {
	store := keys.NewStore()
	ck, err := GenerateClassicalKey(nil)
	require.NoError(t, err)

	_, err = NewSigner(nil, ck)
	require.Error(t, err)
	_, err = NewSigner(store, nil)
	require.Error(t, err)
	_, err = NewSigner(store, ck, WithAlgorithm("RSA"))
	require.True(t, fault.IsKind(err, fault.KindUnsupportedAlgorithm), "got %v", err)
	_, err = NewSigner(store, ck, WithChunkSize(0))
	require.True(t, fault.IsKind(err, fault.KindInvalidFormat), "got %v", err)
}

func TestGetNonceIsUnique(t *testing.T) {
	s, _ := newTestSigner(t)
	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				n, err := s.GetNonce()
				require.NoError(t, err)
				require.Len(t, n, 64)
				mu.Lock()
				require.False(t, seen[n], "duplicate nonce %s", n)
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 400)
}

func TestSignatureEncodings(t *testing.T) {
	s, _ := newTestSigner(t)
	require.NoError(t, s.SetupQuantumKeys(context.Background()))
	msg := []byte("wire")
	sig, err := s.SignData(msg, "n")
	require.NoError(t, err)

	bin, err := sig.MarshalBinary()
	require.NoError(t, err)
	var fromBin Signature
	require.NoError(t, fromBin.UnmarshalBinary(bin))
	require.Equal(t, *sig, fromBin)
	require.True(t, Verify(msg, &fromBin, "").Valid)

	js, err := json.Marshal(sig)
	require.NoError(t, err)
	require.Contains(t, string(js), `"classicalSignature":"0x`)
	var fromJSON Signature
	require.NoError(t, json.Unmarshal(js, &fromJSON))
	require.Equal(t, *sig, fromJSON)

	require.Error(t, fromBin.UnmarshalBinary([]byte{0xff}))
	require.Error(t, fromJSON.UnmarshalJSON([]byte(`{"classicalSignature":"0xzz"}`)))
}

func TestConcurrentSignWithRotation(t *testing.T) {
	ctx := context.Background()
	s, store := newTestSigner(t, WithAlgorithm(keys.MLDSA44))
	require.NoError(t, s.SetupQuantumKeys(ctx))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				msg := []byte{byte(j)}
				sig, err := s.SignData(msg, "n")
				if err != nil {
					errs <- err
					return
				}
				if !Verify(msg, sig, "").Valid {
					errs <- errors.New("signature did not verify")
					return
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		_, err := store.RotateKey(ctx)
		require.NoError(t, err)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestSignFileWithProof(t *testing.T) {
	ctx := context.Background()
	prover, err := stark.NewProver(stark.ProverOptions{})
	require.NoError(t, err)
	verifier, err := stark.NewVerifier(stark.VerifierOptions{})
	require.NoError(t, err)
	s, _ := newTestSigner(t, WithProver(prover), WithChunkSize(64))
	require.NoError(t, s.SetupQuantumKeys(ctx))

	data := bytes.Repeat([]byte("equinox "), 100)
	fs, err := s.SignFile(ctx, FileInput{Name: "a.txt", Type: "text/plain", Data: data}, "file-nonce", true)
	require.NoError(t, err)
	require.NotNil(t, fs.Proof)

	tree, err := merkle.Build(data, 64)
	require.NoError(t, err)
	require.Equal(t, merkle.RootHex(tree), fs.Descriptor.MerkleRoot)
	require.Equal(t, fs.Descriptor.MerkleRoot, fs.Proof.Commitment)
	require.Equal(t, uint64(len(data)), fs.Descriptor.FileSize)
	require.Equal(t, testNow.UnixMilli(), fs.Descriptor.Timestamp)
	require.Nil(t, fs.Descriptor.BatchIndex)
	require.Equal(t, 64, fs.Descriptor.ChunkSize)
	require.True(t, strings.HasPrefix(fs.RootCID, "b"))
	require.Contains(t, string(fs.Payload), `"fileName":"a.txt"`)

	v := VerifyFile(data, fs, Expected{}, verifier)
	require.True(t, v.Valid)
	require.True(t, v.RootMatches)
	require.NotNil(t, v.ProofValid)
	require.True(t, *v.ProofValid)

	changed := append([]byte(nil), data...)
	changed[3] ^= 0x01
	v = VerifyFile(changed, fs, Expected{}, verifier)
	require.False(t, v.Valid)
	require.False(t, v.RootMatches)
	require.False(t, *v.ProofValid)
}

func TestVerifyFileUsesSignedChunkSize(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t, WithChunkSize(64))
	require.NoError(t, s.SetupQuantumKeys(ctx))
	data := bytes.Repeat([]byte("chunked "), 40)
	fs, err := s.SignFile(ctx, FileInput{Name: "c.txt", Data: data}, "n", false)
	require.NoError(t, err)
	require.Contains(t, string(fs.Payload), `"chunkSize":64`)

	// The descriptor copy is informational; verification reads the signed payload.
	fs.Descriptor.ChunkSize = 128
	require.True(t, VerifyFile(data, fs, Expected{}, nil).Valid)

	forged := *fs
	forged.Payload = bytes.Replace(fs.Payload, []byte(`"chunkSize":64`), []byte(`"chunkSize":128`), 1)
	v := VerifyFile(data, &forged, Expected{}, nil)
	require.False(t, v.Valid)
	require.False(t, v.ClassicalValid)
}

func TestVerifyFilePinsPostQuantumKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)
	require.NoError(t, s.SetupQuantumKeys(ctx))
	data := []byte("pinned")
	fs, err := s.SignFile(ctx, FileInput{Name: "p", Data: data}, "n", false)
	require.NoError(t, err)

	require.True(t, VerifyFile(data, fs, Expected{Address: s.Address(), PublicKey: fs.Signature.PublicKey}, nil).Valid)

	other, _, err := keys.DeriveKeyPair(keys.MLDSA65, bytes.Repeat([]byte{0x09}, keys.SeedSize))
	require.NoError(t, err)
	v := VerifyFile(data, fs, Expected{PublicKey: other}, nil)
	require.False(t, v.Valid)
	require.True(t, v.ClassicalValid)
	require.Equal(t, []string{ComponentPostQuantum}, v.Failed)
}

type failingProver struct{}

func (failingProver) GenerateProof(context.Context, []byte, stark.Statement) (*stark.Artifact, error) {
	return nil, fault.New(fault.KindProofGeneration, "EQX-TEST-001", "no proof today")
}

func TestSignFileToleratesProofFailure(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t, WithProver(failingProver{}))
	require.NoError(t, s.SetupQuantumKeys(ctx))

	data := []byte("small file")
	fs, err := s.SignFile(ctx, FileInput{Name: "b.bin", Data: data}, "n", true)
	require.NoError(t, err)
	require.Nil(t, fs.Proof)

	v := VerifyFile(data, fs, Expected{}, nil)
	require.True(t, v.Valid)
	require.Nil(t, v.ProofValid)
}

func TestSignBatch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestSigner(t)
	require.NoError(t, s.SetupQuantumKeys(ctx))

	files := []FileInput{
		{Name: "one", Data: []byte("1")},
		{Name: "two", Data: []byte("22")},
		{Name: "empty"},
	}
	out, err := s.SignBatch(ctx, files, "batch", false)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, fs := range out {
		require.NotNil(t, fs.Descriptor.BatchIndex)
		require.Equal(t, i, *fs.Descriptor.BatchIndex)
		require.Equal(t, "batch-"+string(rune('0'+i)), fs.Signature.Nonce)
		require.True(t, VerifyFile(files[i].Data, fs, Expected{}, nil).Valid)
	}

	_, err = s.SignBatch(ctx, files, "", false)
	require.True(t, fault.IsKind(err, fault.KindInvalidFormat), "got %v", err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.SignBatch(cancelled, files, "batch", false)
	require.ErrorIs(t, err, context.Canceled)
}
