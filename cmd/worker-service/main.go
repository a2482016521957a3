// Command worker-service runs the Golem worker service: the external
// gRPC front door that resolves each request's owning shard against the
// shard manager's routing table and forwards it to the worker-executor pod
// that owns it, retrying transient failures through pkg/workerproxy. It
// owns no worker state of its own -- every RPC either proxies
// (Invoke/InvokeAndAwait/Update) or passes through directly
// (CreateWorker/Get/Interrupt/Delete/SimulatedCrash/InvocationKey/Connect)
// to the resolved pod. The Go counterpart of
// original_source/golem-worker-service's binary entrypoint.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/rpc"
	"github.com/golem-go/golem/pkg/workerproxy"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "worker-service",
	Short:   "worker-service - Golem's routing front door for worker invocations",
	Version: Version,
	RunE:    runWorkerService,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("worker-service version %s (%s)\n", Version, Commit))

	flags := rootCmd.Flags()
	flags.String("grpc-addr", envDefault("GOLEM_WORKER_SERVICE_GRPC_ADDR", ":9010"), "gRPC listen address")
	flags.String("http-addr", envDefault("GOLEM_WORKER_SERVICE_HTTP_ADDR", ":9011"), "HTTP metrics/health listen address")
	flags.String("shard-manager-addr", envDefault("GOLEM_SHARD_MANAGER_ADDR", "127.0.0.1:9021"), "Shard manager gRPC address")
	flags.Duration("routing-refresh-interval", 2*time.Second, "Interval between routing-table refreshes")
	flags.Int("proxy-retries", 2, "Additional attempts a proxied call makes against a fresh pod before giving up")
	rootCmd.PersistentFlags().String("log-level", envDefault("GOLEM_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func runWorkerService(cmd *cobra.Command, _ []string) error {
	logger := log.WithComponent("worker-service")

	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	shardManagerAddr, _ := cmd.Flags().GetString("shard-manager-addr")
	routingRefresh, _ := cmd.Flags().GetDuration("routing-refresh-interval")
	proxyRetries, _ := cmd.Flags().GetInt("proxy-retries")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	smConn, err := rpc.Dial(ctx, shardManagerAddr)
	if err != nil {
		return fmt.Errorf("dial shard manager %s: %w", shardManagerAddr, err)
	}
	defer smConn.Close()
	smClient := rpc.NewShardManagerClient(smConn)

	routing, err := rpc.NewRemoteRoutingLookup(ctx, smClient, routingRefresh)
	if err != nil {
		return fmt.Errorf("fetch initial routing table: %w", err)
	}

	remoteClient := rpc.NewRemoteWorkerClient()
	defer remoteClient.Close()

	proxy := workerproxy.New(routing, remoteClient, proxyRetries)
	gateway := rpc.NewGatewayWorkerServer(routing, proxy, remoteClient)

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", grpcAddr, err)
	}

	server := grpc.NewServer(grpc.UnaryInterceptor(rpc.UnaryInterceptor))
	rpc.RegisterWorkerServiceServer(server, gateway)
	rpc.RegisterHealth(server, "golem.WorkerService")

	go func() {
		logger.Info().Str("addr", grpcAddr).Str("shard_manager", shardManagerAddr).Msg("worker service listening")
		if err := server.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthcheck", metrics.LivenessHandler())
	httpServer := &http.Server{Addr: httpAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", httpAddr).Msg("metrics/health listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	server.GracefulStop()
	return nil
}
