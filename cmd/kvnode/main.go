package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"partrecon/internal/affinity"
	"partrecon/internal/config"
	"partrecon/internal/logging"
	"partrecon/internal/node"
	"partrecon/internal/rpc"
)

func main() {
	v := viper.New()
	opt := &Opt{}
	cmd := newRootCmd(v, opt, func() error { return run(v, opt) })
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(v *viper.Viper, opt *Opt) error {
	cfg, err := config.Load(v, opt.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateNode(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	aff := affinity.New(cfg.VNodes, cfg.BuildRingNodes(), cfg.Caches)
	pool := rpc.NewPool(func(id string) (string, bool) {
		n, ok := aff.Node(id)
		return n.Addr, ok
	})
	defer pool.Close()

	n := node.NewNode(node.Options{
		ID:          cfg.NodeID,
		ListenAddr:  cfg.ListenAddr,
		MetricsAddr: cfg.MetricsAddr,
		WriteQuorum: cfg.WriteQuorum,
	}, store, aff, pool, logger)

	logger.Info("node configured",
		zap.String("node_id", cfg.NodeID),
		zap.Int("peers", len(cfg.Peers)),
		zap.Strings("caches", cfg.CacheNames()),
		zap.String("storage", cfg.Storage.Engine))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- n.Start()
	}()

	select {
	case err := <-errCh:
		// Start only returns before Stop when listening or serving failed.
		n.Stop()
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	n.Stop()
	return <-errCh
}
