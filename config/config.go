// Package config loads the YAML configuration shared by the equinox CLI and
// the commitment daemon.
//
// Example:
//
//	keys:
//	  algorithm: ML-DSA-65
//	  rotationInterval: 2160h
//	  minSecurityLevel: 192
//	merkle:
//	  chunkSize: 1024
//	proof:
//	  enabled: true
//	  blowup: 8
//	  queries: 32
//	  spotChecks: 16
//	log:
//	  env: prod
//	  level: info
//	rpc:
//	  listen: 127.0.0.1:7879
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"xdao.co/equinox/internal/logging"
	"xdao.co/equinox/keys"
	"xdao.co/equinox/merkle"
	"xdao.co/equinox/stark"
)

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML parses strings such as "2160h" or "0s".
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Config struct {
	Keys   KeysConfig   `yaml:"keys"`
	Merkle MerkleConfig `yaml:"merkle"`
	Proof  ProofConfig  `yaml:"proof"`
	Log    LogConfig    `yaml:"log"`
	RPC    RPCConfig    `yaml:"rpc"`
}

type KeysConfig struct {
	Algorithm string `yaml:"algorithm"`
	// RotationInterval of zero makes new keys non-expiring.
	RotationInterval Duration `yaml:"rotationInterval"`
	MinSecurityLevel int      `yaml:"minSecurityLevel,omitempty"`
}

type MerkleConfig struct {
	ChunkSize int `yaml:"chunkSize"`
}

type ProofConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Blowup       uint32 `yaml:"blowup"`
	Queries      uint32 `yaml:"queries"`
	SpotChecks   uint32 `yaml:"spotChecks"`
	MaxInputSize int64  `yaml:"maxInputSize"`
	CacheSize    int    `yaml:"cacheSize"`
}

type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

type RPCConfig struct {
	Listen         string `yaml:"listen"`
	MaxMessageSize int    `yaml:"maxMessageSize"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	p := stark.DefaultParams()
	return Config{
		Keys: KeysConfig{
			Algorithm:        string(keys.DefaultAlgorithm),
			RotationInterval: Duration(keys.DefaultRotationInterval),
		},
		Merkle: MerkleConfig{ChunkSize: merkle.DefaultChunkSize},
		Proof: ProofConfig{
			Enabled:      true,
			Blowup:       p.Blowup,
			Queries:      p.Queries,
			SpotChecks:   p.SpotChecks,
			MaxInputSize: stark.DefaultMaxInputSize,
			CacheSize:    stark.DefaultCacheSize,
		},
		Log: LogConfig{Env: "dev", Level: "info"},
		RPC: RPCConfig{Listen: "127.0.0.1:7879", MaxMessageSize: 32 << 20},
	}
}

// LoadFile reads path over Default and validates the result.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML over Default and validates the result. Unknown keys are
// rejected.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c Config) Validate() error {
	alg, err := keys.ParseAlgorithm(c.Keys.Algorithm)
	if err != nil {
		return fmt.Errorf("config: keys.algorithm: %w", err)
	}
	if c.Keys.RotationInterval < 0 {
		return errors.New("config: keys.rotationInterval must not be negative")
	}
	if c.Keys.MinSecurityLevel != 0 && !alg.Meets(c.Keys.MinSecurityLevel) {
		return fmt.Errorf("config: keys.algorithm %s is below minSecurityLevel %d", alg, c.Keys.MinSecurityLevel)
	}
	if err := merkle.CheckChunkSize(c.Merkle.ChunkSize); err != nil {
		return fmt.Errorf("config: merkle.chunkSize: %w", err)
	}
	if err := c.StarkParams().Validate(); err != nil {
		return fmt.Errorf("config: proof: %w", err)
	}
	if c.Proof.MaxInputSize < 0 || c.Proof.CacheSize < 0 {
		return errors.New("config: proof sizes must not be negative")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if err := logging.CheckEnv(c.Log.Env); err != nil {
		return fmt.Errorf("config: log.env: %w", err)
	}
	if c.RPC.MaxMessageSize < 0 {
		return errors.New("config: rpc.maxMessageSize must not be negative")
	}
	return nil
}

// Algorithm is the validated key algorithm.
func (c Config) Algorithm() keys.Algorithm { return keys.Algorithm(c.Keys.Algorithm) }

// StarkParams returns the proof parameters.
func (c Config) StarkParams() stark.Params {
	return stark.Params{Blowup: c.Proof.Blowup, Queries: c.Proof.Queries, SpotChecks: c.Proof.SpotChecks}
}

// ProverOptions returns prover options without logger or metrics.
func (c Config) ProverOptions() stark.ProverOptions {
	return stark.ProverOptions{Params: c.StarkParams(), MaxInputSize: c.Proof.MaxInputSize}
}

// VerifierOptions returns verifier options without logger or metrics.
func (c Config) VerifierOptions() stark.VerifierOptions {
	return stark.VerifierOptions{Params: c.StarkParams(), MaxInputSize: c.Proof.MaxInputSize, CacheSize: c.Proof.CacheSize}
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	return logging.Config{Env: c.Log.Env, Level: c.Log.Level}
}
