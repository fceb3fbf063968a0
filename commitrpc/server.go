package commitrpc

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/equinox/fault"
	"xdao.co/equinox/merkle"
	"xdao.co/equinox/stark"
)

// Server exposes the Merkle committer and proof system over the Commitment
// service. Prover and Verifier are required for Prove and Verify.
type Server struct {
	UnimplementedCommitmentServer

	Prover   *stark.Prover
	Verifier *stark.Verifier
	// ChunkSize defaults to merkle.DefaultChunkSize.
	ChunkSize int
	Logger    *zap.Logger
}

func (s *Server) chunkSize() int {
	if s.ChunkSize <= 0 {
		return merkle.DefaultChunkSize
	}
	return s.ChunkSize
}

func (s *Server) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *Server) Commit(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing server")
	}
	tree, err := merkle.BuildContext(ctx, in.GetValue(), s.chunkSize())
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.String(merkle.RootHex(tree)), nil
}

func (s *Server) Prove(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Prover == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing prover")
	}
	data := in.GetValue()
	art, err := s.Prover.GenerateProof(ctx, data, stark.NewStatement(uint64(len(data)), s.chunkSize()))
	if err != nil {
		s.log().Warn("prove failed", zap.String("rule_id", fault.RuleID(err)), zap.Error(err))
		return nil, mapErr(err)
	}
	b, err := stark.EncodeArtifact(art)
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bytes(b), nil
}

func (s *Server) Verify(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Verifier == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing verifier")
	}
	if err := ctx.Err(); err != nil {
		return nil, mapErr(err)
	}
	art, err := stark.DecodeArtifact(in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	return wrapperspb.Bool(s.Verifier.VerifyArtifact(art)), nil
}
