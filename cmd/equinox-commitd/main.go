package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"xdao.co/equinox/commitrpc"
	"xdao.co/equinox/config"
	"xdao.co/equinox/internal/logging"
	"xdao.co/equinox/internal/metrics"
	"xdao.co/equinox/stark"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	var (
		configPath    string
		listen        string
		metricsListen string
	)
	c := &cobra.Command{
		Use:           "equinox-commitd",
		Short:         "Serve the Merkle commitment and proof service over gRPC",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(c *cobra.Command, _ []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = config.LoadFile(configPath); err != nil {
					return err
				}
			}
			if listen != "" {
				cfg.RPC.Listen = listen
			}
			lc := cfg.Logging()
			lc.Output = errOut
			lc.Service = "equinox-commitd"
			log, err := logging.New(lc)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			reg := prometheus.NewRegistry()
			rec, err := metrics.New(reg)
			if err != nil {
				return err
			}
			lis, err := net.Listen("tcp", cfg.RPC.Listen)
			if err != nil {
				return err
			}
			if metricsListen != "" {
				stopMetrics, err := serveMetrics(metricsListen, reg, log)
				if err != nil {
					_ = lis.Close()
					return err
				}
				defer stopMetrics()
			}
			fmt.Fprintf(out, "equinox-commitd listening on %s\n", lis.Addr())
			return serve(c.Context(), lis, cfg, log, rec)
		},
	}
	c.SetArgs(args)
	c.SetOut(out)
	c.SetErr(errOut)
	c.Flags().StringVar(&configPath, "config", "", "YAML configuration file")
	c.Flags().StringVar(&listen, "listen", "", "Listen address (default rpc.listen)")
	c.Flags().StringVar(&metricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")

	if err := c.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

// newServer builds the gRPC server with the Commitment service registered.
func newServer(cfg config.Config, log *zap.Logger, rec *metrics.Recorder) (*grpc.Server, error) {
	po := cfg.ProverOptions()
	po.Logger = log
	po.Metrics = rec
	prover, err := stark.NewProver(po)
	if err != nil {
		return nil, err
	}
	vo := cfg.VerifierOptions()
	vo.Logger = log
	vo.Metrics = rec
	verifier, err := stark.NewVerifier(vo)
	if err != nil {
		return nil, err
	}

	var opts []grpc.ServerOption
	if n := cfg.RPC.MaxMessageSize; n > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(n), grpc.MaxSendMsgSize(n))
	}
	opts = append(opts, grpc.UnaryInterceptor(logCalls(log)))

	s := grpc.NewServer(opts...)
	commitrpc.RegisterCommitmentServer(s, &commitrpc.Server{
		Prover:    prover,
		Verifier:  verifier,
		ChunkSize: cfg.Merkle.ChunkSize,
		Logger:    log,
	})
	return s, nil
}

// serve runs until ctx is done, then stops gracefully.
func serve(ctx context.Context, lis net.Listener, cfg config.Config, log *zap.Logger, rec *metrics.Recorder) error {
	s, err := newServer(cfg, log, rec)
	if err != nil {
		_ = lis.Close()
		return err
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(lis) }()
	log.Info("serving", zap.String("addr", lis.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	s.GracefulStop()
	if err := <-errc; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func logCalls(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start))}
		if err != nil {
			log.Warn("rpc failed", append(fields, zap.Error(err))...)
		} else {
			log.Debug("rpc", fields...)
		}
		return resp, err
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
