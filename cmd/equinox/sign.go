package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/hybrid"
	"xdao.co/equinox/stark"
)

type identityFlags struct {
	seedHex string
	user    string
}

func (f *identityFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&f.seedHex, "seed-hex", "", "Root seed for the classical key (64 hex chars)")
	c.Flags().StringVar(&f.user, "user", "default", "User id the classical key is derived for")
}

func (f *identityFlags) key() (*hybrid.ClassicalKey, error) {
	seed, err := hex.DecodeString(f.seedHex)
	if err != nil || len(seed) != 32 {
		return nil, usageError{fmt.Errorf("--seed-hex must be 64 hex chars")}
	}
	return hybrid.DeriveClassicalKey(seed, f.user)
}

func signCommand(e *env) *cobra.Command {
	var (
		kf        keyringFlags
		id        identityFlags
		nonce     string
		withProof bool
		outPath   string
	)
	c := &cobra.Command{
		Use:   "sign <file>",
		Short: "Hybrid-sign a file descriptor",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ctx := c.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			ck, err := id.key()
			if err != nil {
				return err
			}
			defer ck.Zero()
			st, _, err := kf.open(ctx, e, true)
			if err != nil {
				return err
			}
			opts := []hybrid.Option{
				hybrid.WithAlgorithm(e.cfg.Algorithm()),
				hybrid.WithMinSecurityLevel(e.cfg.Keys.MinSecurityLevel),
				hybrid.WithChunkSize(e.cfg.Merkle.ChunkSize),
				hybrid.WithLogger(e.log),
				hybrid.WithMetrics(e.metrics),
			}
			if e.cfg.Proof.Enabled {
				po := e.cfg.ProverOptions()
				po.Logger = e.log
				po.Metrics = e.metrics
				p, err := stark.NewProver(po)
				if err != nil {
					return err
				}
				opts = append(opts, hybrid.WithProver(p))
			}
			signer, err := hybrid.NewSigner(st, ck, opts...)
			if err != nil {
				return err
			}
			if nonce == "" {
				if nonce, err = signer.GetNonce(); err != nil {
					return err
				}
			}
			name := filepath.Base(args[0])
			fsig, err := signer.SignFile(ctx, hybrid.FileInput{
				Name: name,
				Type: mime.TypeByExtension(filepath.Ext(name)),
				Data: data,
			}, nonce, withProof)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(fsig, "", "  ")
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = e.out.Write(append(b, '\n'))
				return err
			}
			if err := renameio.WriteFile(outPath, b, 0o644); err != nil {
				return fmt.Errorf("write signature: %w", err)
			}
			fmt.Fprintf(e.out, "address=%s\nkey_id=%s\nroot=%s\n", fsig.Signature.Address, fsig.Signature.KeyID, fsig.Descriptor.MerkleRoot)
			return nil
		},
	}
	kf.register(c)
	id.register(c)
	c.Flags().StringVar(&nonce, "nonce", "", "Nonce (default a fresh random nonce)")
	c.Flags().BoolVar(&withProof, "proof", false, "Attach a proof bound to the Merkle root")
	c.Flags().StringVar(&outPath, "out", "", "Write the signature JSON here instead of stdout")
	return c
}

func verifySignatureCommand(e *env) *cobra.Command {
	var address, publicKeyHex string
	c := &cobra.Command{
		Use:   "verify-signature <file> <signature.json>",
		Short: "Verify a file signature and any attached proof",
		Args:  exactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			raw, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read signature: %w", err)
			}
			var fsig hybrid.FileSignature
			if err := json.Unmarshal(raw, &fsig); err != nil {
				return fmt.Errorf("parse signature: %w", err)
			}
			want := hybrid.Expected{Address: address}
			if publicKeyHex != "" {
				if want.PublicKey, err = digest.DecodeHex(publicKeyHex); err != nil {
					return usageError{fmt.Errorf("--public-key: %w", err)}
				}
			}
			vo := e.cfg.VerifierOptions()
			vo.Logger = e.log
			vo.Metrics = e.metrics
			v, err := stark.NewVerifier(vo)
			if err != nil {
				return err
			}
			res := hybrid.VerifyFile(data, &fsig, want, v)
			b, err := json.Marshal(res)
			if err != nil {
				return err
			}
			fmt.Fprintln(e.out, string(b))
			if !res.Valid || (res.ProofValid != nil && !*res.ProofValid) {
				return errRejected
			}
			return nil
		},
	}
	c.Flags().StringVar(&address, "address", "", "Expected signer address (default the address in the signature)")
	c.Flags().StringVar(&publicKeyHex, "public-key", "", "Expected post-quantum public key, hex (default the key in the signature)")
	return c
}
