package main

import (
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/equinox/cidutil"
	"xdao.co/equinox/merkle"
	"xdao.co/equinox/stark"
)

func commitCommand(e *env) *cobra.Command {
	var chunk int
	c := &cobra.Command{
		Use:   "commit <file>",
		Short: "Print the Merkle root and root CID of a file",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			if chunk == 0 {
				chunk = e.cfg.Merkle.ChunkSize
			}
			tree, err := merkle.BuildContext(c.Context(), data, chunk)
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "root=%s\ncid=%s\nleaves=%d\n", merkle.RootHex(tree), cidutil.RootCIDString(tree.Root()), tree.LeafCount())
			return nil
		},
	}
	c.Flags().IntVar(&chunk, "chunk-size", 0, "Chunk size in bytes (default merkle.chunkSize)")
	return c
}

func proveCommand(e *env) *cobra.Command {
	var outPath string
	c := &cobra.Command{
		Use:   "prove <file>",
		Short: "Write a proof artifact for a file",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			if outPath == "" {
				return usageError{fmt.Errorf("missing --out")}
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			opts := e.cfg.ProverOptions()
			opts.Logger = e.log
			opts.Metrics = e.metrics
			p, err := stark.NewProver(opts)
			if err != nil {
				return err
			}
			art, err := p.GenerateProof(c.Context(), data, stark.NewStatement(uint64(len(data)), e.cfg.Merkle.ChunkSize))
			if err != nil {
				return err
			}
			b, err := stark.EncodeArtifact(art)
			if err != nil {
				return err
			}
			if err := renameio.WriteFile(outPath, b, 0o644); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}
			fmt.Fprintf(e.out, "commitment=%s\nproof_bytes=%d\n", art.Commitment, art.Size())
			return nil
		},
	}
	c.Flags().StringVar(&outPath, "out", "", "Artifact output path")
	return c
}

func verifyCommand(e *env) *cobra.Command {
	var commitment string
	c := &cobra.Command{
		Use:   "verify <artifact>",
		Short: "Verify a proof artifact",
		Args:  exactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}
			art, err := stark.DecodeArtifact(b)
			if err != nil {
				return err
			}
			if commitment != "" && commitment != art.Commitment {
				fmt.Fprintln(e.out, "invalid: commitment mismatch")
				return errRejected
			}
			opts := e.cfg.VerifierOptions()
			opts.Logger = e.log
			opts.Metrics = e.metrics
			v, err := stark.NewVerifier(opts)
			if err != nil {
				return err
			}
			if err := v.Check(art.Proof, art.Commitment, art.Statement); err != nil {
				e.log.Debug("proof rejected", zap.Error(err))
				fmt.Fprintf(e.out, "invalid: %v\n", err)
				return errRejected
			}
			fmt.Fprintf(e.out, "valid commitment=%s\n", art.Commitment)
			return nil
		},
	}
	c.Flags().StringVar(&commitment, "commitment", "", "Expected Merkle root hex")
	return c
}
