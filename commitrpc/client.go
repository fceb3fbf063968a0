package commitrpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/equinox/merkle"
	"xdao.co/equinox/stark"
)

// Client calls a Commitment service.
type Client struct {
	cc     *grpc.ClientConn
	client CommitmentClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra is appended to the default dial options.
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewCommitmentClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Commit returns the server's Merkle root hex for data. The reply is checked
// for canonical form.
func (c *Client) Commit(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Commit(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return "", mapRPC(err)
	}
	if _, err := merkle.ParseRootHex(reply.GetValue()); err != nil {
		return "", err
	}
	return reply.GetValue(), nil
}

// Prove asks the server for a proof over data.
func (c *Client) Prove(ctx context.Context, data []byte) (*stark.Artifact, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Prove(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return nil, mapRPC(err)
	}
	return stark.DecodeArtifact(reply.GetValue())
}

// Verify asks the server to check a.
func (c *Client) Verify(ctx context.Context, a *stark.Artifact) (bool, error) {
	b, err := stark.EncodeArtifact(a)
	if err != nil {
		return false, err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Verify(ctx, wrapperspb.Bytes(b))
	if err != nil {
		return false, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
