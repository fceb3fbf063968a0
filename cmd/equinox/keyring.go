package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"

	"xdao.co/equinox/keys"
)

const passwordEnv = "EQUINOX_PASSWORD"

type keyringFlags struct {
	path     string
	password string
}

func (k *keyringFlags) register(c *cobra.Command) {
	c.Flags().StringVar(&k.path, "keyring", "", "Encrypted keyring file")
	c.Flags().StringVar(&k.password, "password", "", "Keyring password (default $"+passwordEnv+")")
}

func (k *keyringFlags) secret() ([]byte, error) {
	pw := k.password
	if pw == "" {
		pw = os.Getenv(passwordEnv)
	}
	if pw == "" {
		return nil, usageError{fmt.Errorf("missing --password or $%s", passwordEnv)}
	}
	return []byte(pw), nil
}

// open loads the keyring into a fresh store. A missing file yields an empty
// store unless mustExist is set.
func (k *keyringFlags) open(ctx context.Context, e *env, mustExist bool) (*keys.Store, []byte, error) {
	if k.path == "" {
		return nil, nil, usageError{errors.New("missing --keyring")}
	}
	pw, err := k.secret()
	if err != nil {
		return nil, nil, err
	}
	st := keys.NewStore(
		keys.WithRotationInterval(time.Duration(e.cfg.Keys.RotationInterval)),
		keys.WithLogger(e.log),
		keys.WithMetrics(e.metrics),
	)
	blob, err := os.ReadFile(k.path)
	if errors.Is(err, fs.ErrNotExist) && !mustExist {
		return st, pw, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read keyring: %w", err)
	}
	if err := st.ImportKeys(ctx, blob, pw); err != nil {
		return nil, nil, err
	}
	return st, pw, nil
}

// save replaces the keyring file atomically.
func (k *keyringFlags) save(ctx context.Context, st *keys.Store, pw []byte) error {
	blob, err := st.ExportKeys(ctx, pw)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(k.path, blob, 0o600); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

func keyCommand(e *env) *cobra.Command {
	c := &cobra.Command{Use: "key", Short: "Manage the post-quantum keyring"}
	c.AddCommand(keyGenerateCommand(e), keyRotateCommand(e), keyListCommand(e), keyPublicCommand(e))
	return c
}

func keyGenerateCommand(e *env) *cobra.Command {
	var (
		kf        keyringFlags
		algorithm string
		usage     string
	)
	c := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key and make it current",
		Args:  exactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			alg := e.cfg.Algorithm()
			if algorithm != "" {
				var err error
				if alg, err = keys.ParseAlgorithm(algorithm); err != nil {
					return usageError{err}
				}
			}
			u, err := keys.ParseUsage(usage)
			if err != nil {
				return usageError{err}
			}
			st, pw, err := kf.open(ctx, e, false)
			if err != nil {
				return err
			}
			kp, err := st.GenerateKeyPair(ctx, alg, u)
			if err != nil {
				return err
			}
			if err := kf.save(ctx, st, pw); err != nil {
				return err
			}
			printKey(e, kp)
			return nil
		},
	}
	kf.register(c)
	c.Flags().StringVar(&algorithm, "algorithm", "", "ML-DSA-44, ML-DSA-65 or ML-DSA-87 (default keys.algorithm)")
	c.Flags().StringVar(&usage, "usage", string(keys.UsageSigning), "signing, encryption or both")
	return c
}

func keyRotateCommand(e *env) *cobra.Command {
	var (
		kf      keyringFlags
		ifNeeds bool
	)
	c := &cobra.Command{
		Use:   "rotate",
		Short: "Replace the current key with a fresh one",
		Args:  exactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			st, pw, err := kf.open(ctx, e, true)
			if err != nil {
				return err
			}
			if ifNeeds && !st.NeedsRotation() {
				fmt.Fprintln(e.out, "rotation not needed")
				return nil
			}
			kp, err := st.RotateKey(ctx)
			if err != nil {
				return err
			}
			if err := kf.save(ctx, st, pw); err != nil {
				return err
			}
			printKey(e, kp)
			return nil
		},
	}
	kf.register(c)
	c.Flags().BoolVar(&ifNeeds, "if-needed", false, "Rotate only when the current key is missing or expired")
	return c
}

func keyListCommand(e *env) *cobra.Command {
	var kf keyringFlags
	c := &cobra.Command{
		Use:   "list",
		Short: "List keys and rotation status",
		Args:  exactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			st, _, err := kf.open(c.Context(), e, true)
			if err != nil {
				return err
			}
			for _, kp := range st.Keys() {
				printKey(e, kp)
			}
			stats := st.GetKeyStats()
			fmt.Fprintf(e.out, "total=%d active=%d expired=%d", stats.TotalKeys, stats.ActiveKeys, stats.ExpiredKeys)
			if stats.NextRotation != nil {
				fmt.Fprintf(e.out, " next_rotation=%s", stats.NextRotation.UTC().Format(time.RFC3339))
			}
			fmt.Fprintln(e.out)
			return nil
		},
	}
	kf.register(c)
	return c
}

func keyPublicCommand(e *env) *cobra.Command {
	var (
		kf    keyringFlags
		keyID string
	)
	c := &cobra.Command{
		Use:   "public",
		Short: "Print a public key as hex for verify-signature --public-key",
		Args:  exactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			st, _, err := kf.open(c.Context(), e, true)
			if err != nil {
				return err
			}
			kp, ok := st.GetCurrentKey()
			if keyID != "" {
				kp, ok = st.Key(keyID)
			}
			if !ok {
				return fmt.Errorf("no such key")
			}
			fmt.Fprintln(e.out, hex.EncodeToString(kp.PublicKey))
			return nil
		},
	}
	kf.register(c)
	c.Flags().StringVar(&keyID, "key-id", "", "Key to print (default the current key)")
	return c
}

func printKey(e *env, kp keys.KeyPair) {
	expires := "never"
	if kp.ExpiresAt != nil {
		expires = kp.ExpiresAt.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(e.out, "%s\t%s\t%s\t%s\texpires=%s\n", kp.KeyID, kp.Algorithm, kp.Usage, kp.Status, expires)
}
