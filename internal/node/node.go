package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"partrecon/internal/affinity"
	"partrecon/internal/rpc"
	"partrecon/internal/storage"
)

// Options configures a node.
type Options struct {
	ID          string
	ListenAddr  string
	MetricsAddr string // empty disables the /metrics endpoint
	WriteQuorum int
}

// Node represents a single node in the cluster.
type Node struct {
	opts       Options
	server     *Server
	grpcServer *grpc.Server
	health     *health.Server
	metrics    *http.Server
	logger     *zap.Logger
}

// NewNode creates a node serving the given store. The dialer reaches the
// other owners for replicated writes.
func NewNode(opts Options, store storage.Store, aff *affinity.Function, dialer rpc.Dialer, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("node", opts.ID))

	n := &Node{
		opts:   opts,
		server: NewServer(opts.ID, store, aff, dialer, opts.WriteQuorum, logger),
		health: health.NewServer(),
		logger: logger,
	}
	n.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoveryInterceptor(logger),
		metricsInterceptor(),
	))
	rpc.RegisterNodeService(n.grpcServer, n.server)
	healthpb.RegisterHealthServer(n.grpcServer, n.health)
	return n
}

// Service returns the node's RPC handlers for in-process use.
func (n *Node) Service() *Server {
	return n.server
}

// Start listens on the configured address and serves until Stop.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.opts.ListenAddr, err)
	}
	return n.Serve(lis)
}

// Serve serves RPCs on lis until Stop.
func (n *Node) Serve(lis net.Listener) error {
	if n.opts.MetricsAddr != "" {
		n.startMetrics()
	}

	n.health.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	n.logger.Info("starting node", zap.String("addr", lis.Addr().String()))

	if err := n.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the node and closes its store.
func (n *Node) Stop() {
	n.logger.Info("stopping node")
	n.health.Shutdown()
	n.grpcServer.GracefulStop()

	if n.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.metrics.Shutdown(ctx); err != nil {
			n.logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
	if err := n.server.store.Close(); err != nil {
		n.logger.Warn("closing store", zap.Error(err))
	}
}

func (n *Node) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	n.metrics = &http.Server{
		Addr:              n.opts.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := n.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("metrics server", zap.Error(err))
		}
	}()
	n.logger.Info("serving metrics", zap.String("addr", n.opts.MetricsAddr))
}
