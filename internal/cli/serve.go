package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/nainya/rowstore/internal/config"
	"github.com/nainya/rowstore/internal/logger"
	"github.com/nainya/rowstore/internal/metrics"
	"github.com/nainya/rowstore/internal/server"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the RowStore gRPC API with health, reflection and metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, GetConfig(cmd.Context()), logger.GetGlobalLogger())
		},
	}

	cmd.Flags().Int("port", 0, "gRPC port (default from GRPC_PORT)")
	cmd.Flags().Int("metrics-port", 0, "HTTP port for /metrics, /health and /ready (default from METRICS_PORT)")
	_ = viper.BindPFlag(config.KeyGRPCPort, cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag(config.KeyMetricsPort, cmd.Flags().Lookup("metrics-port"))

	return cmd
}

// serve runs until ctx is cancelled or a listener fails
func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	store, err := openStore(cfg, m)
	if err != nil {
		return err
	}
	defer store.Close()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	rowServer := server.NewServer(store, log)
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
	)
	healthServer := server.Register(grpcServer, rowServer)
	obs := server.NewObservabilityServer(cfg.Server.MetricsPort, reg, rowServer.Ready, log)

	stopUptime := make(chan struct{})
	defer close(stopUptime)
	go m.RunUptime(stopUptime)

	errCh := make(chan error, 2)
	go func() {
		if err := obs.Start(); err != nil {
			errCh <- err
		}
	}()

	log.LogServerStart(cfg.Server.GRPCPort, cfg.Store.Path)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("failed to serve: %w", err)
		}
	}()
	log.LogServerReady(cfg.Server.GRPCPort)

	select {
	case <-ctx.Done():
	case err = <-errCh:
		log.Error("Server failed").Err(err).Send()
	}

	log.LogServerShutdown()
	healthServer.Shutdown()
	grpcServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := obs.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}
