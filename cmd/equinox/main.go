package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"xdao.co/equinox/config"
	"xdao.co/equinox/internal/logging"
	"xdao.co/equinox/internal/metrics"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// usageError marks errors that should exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// errRejected is returned by verification commands after they have printed a
// negative result; it carries no message of its own.
var errRejected = errors.New("rejected")

func run(args []string, out io.Writer, errOut io.Writer) int {
	root, e := newRootCommand(out, errOut)
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.Execute()
	if ferr := e.flushMetrics(); ferr != nil && err == nil {
		err = ferr
	}
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errRejected):
		return 1
	}
	fmt.Fprintf(errOut, "error: %v\n", err)
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

// env is the state shared by every subcommand.
type env struct {
	out    io.Writer
	errOut io.Writer

	configPath  string
	logLevel    string
	metricsPath string

	cfg     config.Config
	log     *zap.Logger
	reg     *prometheus.Registry
	metrics *metrics.Recorder
}

func newRootCommand(out, errOut io.Writer) (*cobra.Command, *env) {
	e := &env{out: out, errOut: errOut, log: zap.NewNop()}
	root := &cobra.Command{
		Use:           "equinox",
		Short:         "Post-quantum keys, hybrid signatures and file commitments",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, _ []string) error {
			return e.load()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })
	root.PersistentFlags().StringVar(&e.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "Override log.level")
	root.PersistentFlags().StringVar(&e.metricsPath, "metrics-textfile", "", "Write Prometheus metrics for this run to a textfile collector file")

	root.AddCommand(
		keyCommand(e),
		commitCommand(e),
		proveCommand(e),
		verifyCommand(e),
		signCommand(e),
		verifySignatureCommand(e),
	)
	return root, e
}

func (e *env) load() error {
	cfg := config.Default()
	if e.configPath != "" {
		var err error
		if cfg, err = config.LoadFile(e.configPath); err != nil {
			return usageError{err}
		}
	}
	if e.logLevel != "" {
		cfg.Log.Level = e.logLevel
		if err := cfg.Validate(); err != nil {
			return usageError{err}
		}
	}
	lc := cfg.Logging()
	lc.Output = e.errOut
	l, err := logging.New(lc)
	if err != nil {
		return usageError{err}
	}
	e.cfg = cfg
	e.log = l
	if e.metricsPath != "" {
		reg := prometheus.NewRegistry()
		rec, err := metrics.New(reg)
		if err != nil {
			return err
		}
		e.reg, e.metrics = reg, rec
	}
	return nil
}

// flushMetrics writes the run's counters when --metrics-textfile is set. It
// runs after failed commands too, so rejections are counted.
func (e *env) flushMetrics() error {
	if e.reg == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(e.metricsPath, e.reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(c *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{fmt.Errorf("usage: %s", c.UseLine())}
		}
		return nil
	}
}
