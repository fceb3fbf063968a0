package stark

import (
	"github.com/fxamacker/cbor/v2"

	"xdao.co/equinox/digest"
	"xdao.co/equinox/fault"
	"xdao.co/equinox/merkle"
)

// Version is the proof system version recorded in statements and proofs.
const Version = 1

// Statement is the public claim a proof attests to. It carries no file name or
// media type; callers that need those sign them separately.
type Statement struct {
	FileLength    uint64 `json:"fileLength" cbor:"fileLength" yaml:"fileLength"`
	ChunkSize     uint32 `json:"chunkSize" cbor:"chunkSize" yaml:"chunkSize"`
	HashAlgorithm string `json:"hashAlgorithm" cbor:"hashAlgorithm" yaml:"hashAlgorithm"`
	FieldID       string `json:"fieldId" cbor:"fieldId" yaml:"fieldId"`
	Version       uint32 `json:"version" cbor:"version" yaml:"version"`
}

// NewStatement returns the statement for a file of the given length.
func NewStatement(fileLength uint64, chunkSize int) Statement {
	return Statement{
		FileLength:    fileLength,
		ChunkSize:     uint32(chunkSize),
		HashAlgorithm: digest.Algorithm,
		FieldID:       FieldID,
		Version:       Version,
	}
}

// Validate checks that the statement names the primitives this package
// implements.
func (s Statement) Validate() error {
	if s.Version != Version {
		return fault.New(fault.KindInvalidFormat, "EQX-STARK-001", "unsupported proof system version")
	}
	if s.HashAlgorithm != digest.Algorithm {
		return fault.New(fault.KindInvalidFormat, "EQX-STARK-002", "unsupported hash algorithm")
	}
	if s.FieldID != FieldID {
		return fault.New(fault.KindInvalidFormat, "EQX-STARK-003", "unsupported field")
	}
	if err := merkle.CheckChunkSize(int(s.ChunkSize)); err != nil {
		return err
	}
	return nil
}

func (s Statement) encode() []byte {
	b, err := encMode.Marshal(s)
	if err != nil {
		// Statement holds only scalars and strings.
		panic(err)
	}
	return b
}

// Params are the security parameters shared by prover and verifier.
type Params struct {
	Blowup     uint32 `json:"blowup" cbor:"blowup" yaml:"blowup"`
	Queries    uint32 `json:"queries" cbor:"queries" yaml:"queries"`
	SpotChecks uint32 `json:"spotChecks" cbor:"spotChecks" yaml:"spotChecks"`
}

// DefaultParams returns blowup 8 with 32 FRI queries (96 bits of conjectured
// security) and 16 opened leaves of the file tree.
func DefaultParams() Params {
	return Params{Blowup: 8, Queries: 32, SpotChecks: 16}
}

// Validate bounds the parameters.
func (p Params) Validate() error {
	if p.Blowup < 2 || p.Blowup > 64 || p.Blowup&(p.Blowup-1) != 0 {
		return fault.New(fault.KindInvalidFormat, "EQX-STARK-004", "blowup must be a power of two in [2, 64]")
	}
	if p.Queries == 0 || p.Queries > 256 {
		return fault.New(fault.KindInvalidFormat, "EQX-STARK-005", "query count must be in [1, 256]")
	}
	if p.SpotChecks == 0 || p.SpotChecks > 256 {
		return fault.New(fault.KindInvalidFormat, "EQX-STARK-006", "spot check count must be in [1, 256]")
	}
	return nil
}

// blindingRows pads the trace with random rows so the opened trace evaluations
// are independent of the leaf digests that no spot check opens.
func (p Params) blindingRows() int {
	return 4 * int(p.Queries)
}

func (p Params) encode() []byte {
	b, err := encMode.Marshal(p)
	if err != nil {
		panic(err)
	}
	return b
}

// shape is the geometry derived from a statement and parameters.
type shape struct {
	leaves int // file tree leaves (n)
	rows   int // trace rows (N), a power of two
	blowup int
	lde    int // M = rows*blowup
	layers int // FRI folds, log2(rows)
}

func newShape(st Statement, p Params) (shape, error) {
	if st.ChunkSize == 0 || st.FileLength/uint64(st.ChunkSize) >= MaxLDESize {
		return shape{}, errTooLarge
	}
	n := merkle.LeafCount(st.FileLength, int(st.ChunkSize))
	rows := nextPow2(n + 1 + p.blindingRows())
	s := shape{leaves: n, rows: rows, blowup: int(p.Blowup), lde: rows * int(p.Blowup)}
	for r := rows; r > 1; r >>= 1 {
		s.layers++
	}
	if s.lde > MaxLDESize {
		return shape{}, errTooLarge
	}
	return s, nil
}

// MaxLDESize bounds the evaluation domain of any proof, and with it the memory
// a prover or verifier spends on one statement.
const MaxLDESize = 1 << 22

var errTooLarge = fault.New(fault.KindProofGeneration, "EQX-STARK-007", "statement needs a larger evaluation domain than this prover supports")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements:  1 << 20,
		MaxNestedLevels:   16,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}
