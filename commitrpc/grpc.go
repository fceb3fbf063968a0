package commitrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "xdao.equinox.commitrpc.v1.Commitment"

const (
	methodCommit = "/" + ServiceName + "/Commit"
	methodProve  = "/" + ServiceName + "/Prove"
	methodVerify = "/" + ServiceName + "/Verify"
)

// CommitmentServer is the server API for the Commitment service.
//
// Requests and replies are protobuf well-known wrapper types, so no protoc
// toolchain is needed.
//
//	service Commitment {
//	  rpc Commit(google.protobuf.BytesValue) returns (google.protobuf.StringValue);
//	  rpc Prove(google.protobuf.BytesValue) returns (google.protobuf.BytesValue);
//	  rpc Verify(google.protobuf.BytesValue) returns (google.protobuf.BoolValue);
//	}
type CommitmentServer interface {
	// Commit returns the Merkle root hex of the file bytes.
	Commit(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	// Prove returns an encoded proof artifact for the file bytes.
	Prove(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	// Verify checks an encoded proof artifact.
	Verify(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error)
}

// UnimplementedCommitmentServer can be embedded to have forward compatible implementations.
type UnimplementedCommitmentServer struct{}

func (UnimplementedCommitmentServer) Commit(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Commit not implemented")
}
func (UnimplementedCommitmentServer) Prove(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Prove not implemented")
}
func (UnimplementedCommitmentServer) Verify(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Verify not implemented")
}

// RegisterCommitmentServer registers the Commitment service on a gRPC server.
func RegisterCommitmentServer(s grpc.ServiceRegistrar, srv CommitmentServer) {
	s.RegisterService(&Commitment_ServiceDesc, srv)
}

// CommitmentClient is the client API for the Commitment service.
type CommitmentClient interface {
	Commit(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Prove(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Verify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
}

type commitmentClient struct{ cc grpc.ClientConnInterface }

func NewCommitmentClient(cc grpc.ClientConnInterface) CommitmentClient {
	return &commitmentClient{cc: cc}
}

func (c *commitmentClient) Commit(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, methodCommit, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *commitmentClient) Prove(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, methodProve, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *commitmentClient) Verify(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, methodVerify, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Commitment_Commit_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommitmentServer).Commit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCommit}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommitmentServer).Commit(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Commitment_Prove_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommitmentServer).Prove(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodProve}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommitmentServer).Prove(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Commitment_Verify_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommitmentServer).Verify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodVerify}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CommitmentServer).Verify(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Commitment_ServiceDesc is the grpc.ServiceDesc for the Commitment service.
var Commitment_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CommitmentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Commit", Handler: _Commitment_Commit_Handler},
		{MethodName: "Prove", Handler: _Commitment_Prove_Handler},
		{MethodName: "Verify", Handler: _Commitment_Verify_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "commitment.proto",
}
