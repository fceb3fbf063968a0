package commitrpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/equinox/fault"
)

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	switch fault.KindOf(err) {
	case fault.KindInvalidFormat:
		return status.Error(codes.InvalidArgument, err.Error())
	case fault.KindProofGeneration:
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// mapRPC turns server status codes back into fault kinds.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.InvalidArgument:
		return fault.Wrap(fault.KindInvalidFormat, "EQX-RPC-001", st.Message(), err)
	case codes.FailedPrecondition:
		return fault.Wrap(fault.KindProofGeneration, "EQX-RPC-002", st.Message(), err)
	default:
		return err
	}
}
