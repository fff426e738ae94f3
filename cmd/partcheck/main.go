package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"partrecon/internal/affinity"
	"partrecon/internal/checker"
	"partrecon/internal/collect"
	"partrecon/internal/config"
	"partrecon/internal/logging"
	"partrecon/internal/repair"
	"partrecon/internal/rpc"
)

const (
	exitCompleted = 0
	exitFailed    = 1
	exitCancelled = 2
)

func main() {
	v := viper.New()
	opt := &Opt{}
	code := exitCompleted
	cmd := newRootCmd(v, opt, func() error {
		var err error
		code, err = run(v, opt, os.Stdout)
		return err
	})
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if code == exitCompleted {
			code = exitFailed
		}
	}
	os.Exit(code)
}

// run executes one session and writes its report to out. The returned code
// is the process exit status.
func run(v *viper.Viper, opt *Opt, out io.Writer) (int, error) {
	cfg, err := config.Load(v, opt.ConfigPath)
	if err != nil {
		return exitFailed, err
	}
	if err := cfg.Validate(); err != nil {
		return exitFailed, fmt.Errorf("invalid config: %w", err)
	}
	opts, err := cfg.CheckerOptions(opt.Caches)
	if err != nil {
		return exitFailed, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return exitFailed, err
	}
	defer logger.Sync()

	aff := affinity.New(cfg.VNodes, cfg.BuildRingNodes(), cfg.Caches)
	pool := rpc.NewPool(func(id string) (string, bool) {
		n, ok := aff.Node(id)
		return n.Addr, ok
	})
	defer pool.Close()

	var repairer checker.Repairer
	if opts.FixMode {
		repairer = repair.NewExecutor(pool, cfg.Checker.RepairTimeout, logger)
	}
	processor := checker.NewProcessor(aff, collect.NewRemote(pool, logger), repairer, opts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}

	report, runErr := processor.Execute(ctx)
	if report != nil {
		if err := writeReport(out, report, opt.Output); err != nil {
			return exitFailed, err
		}
	}

	switch {
	case runErr == nil:
		return exitCompleted, nil
	case errors.Is(runErr, checker.ErrCancelled):
		logger.Warn("session cancelled", zap.Error(runErr))
		return exitCancelled, runErr
	default:
		return exitFailed, runErr
	}
}

func writeReport(w io.Writer, report *checker.Report, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return err
		}
		return enc.Close()
	}
}
