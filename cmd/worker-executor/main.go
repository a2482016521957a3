// Command worker-executor runs a Golem worker-executor pod: it owns a set
// of live workers, journals every side effect to their oplog, replays them
// on restart, and answers CreateWorker/Invoke/InvokeAndAwait/Get/Interrupt/
// Update/Delete/SimulatedCrash/Connect over gRPC. It registers itself with
// the shard manager at startup so the routing table knows which shards it
// now owns. The Go counterpart of original_source/golem-worker-executor's
// binary entrypoint.
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

	"github.com/golem-go/golem/pkg/executor"
	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/golem-go/golem/pkg/oplog"
	"github.com/golem-go/golem/pkg/rpc"
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/golem-go/golem/pkg/snapshot"
	"github.com/golem-go/golem/pkg/storage/boltstore"
	"github.com/golem-go/golem/pkg/storage/fsblob"
	"github.com/golem-go/golem/pkg/workerfsm"
	"github.com/golem-go/golem/pkg/workerstatus"
	"github.com/rs/zerolog"
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
	Use:     "worker-executor",
	Short:   "worker-executor - Golem's durable worker execution pod",
	Version: Version,
	RunE:    runWorkerExecutor,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("worker-executor version %s (%s)\n", Version, Commit))

	flags := rootCmd.Flags()
	flags.String("grpc-addr", envDefault("GOLEM_WORKER_EXECUTOR_GRPC_ADDR", ":9000"), "gRPC listen address this pod advertises to the shard manager")
	flags.String("advertise-host", envDefault("GOLEM_WORKER_EXECUTOR_ADVERTISE_HOST", "127.0.0.1"), "Host other services should dial to reach this pod")
	flags.Int("advertise-port", 9000, "Port other services should dial to reach this pod")
	flags.String("http-addr", envDefault("GOLEM_WORKER_EXECUTOR_HTTP_ADDR", ":9001"), "HTTP metrics/health listen address")
	flags.String("data-dir", envDefault("GOLEM_WORKER_EXECUTOR_DATA_DIR", "./golem-data/worker-executor"), "Local data directory for the bbolt oplog/status/blob stores")
	flags.String("shard-manager-addr", envDefault("GOLEM_SHARD_MANAGER_ADDR", ""), "Shard manager gRPC address; empty disables registration (standalone mode)")
	flags.Uint64("snapshot-every-n-invocations", 0, "Take a compaction snapshot every N completed invocations (0 disables)")
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

func runWorkerExecutor(cmd *cobra.Command, _ []string) error {
	logger := log.WithComponent("worker-executor")

	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
	advertiseHost, _ := cmd.Flags().GetString("advertise-host")
	advertisePort, _ := cmd.Flags().GetInt("advertise-port")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	shardManagerAddr, _ := cmd.Flags().GetString("shard-manager-addr")
	snapshotEveryN, _ := cmd.Flags().GetUint64("snapshot-every-n-invocations")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := boltstore.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open bbolt db: %w", err)
	}
	defer db.Close()

	blobs, err := fsblob.New(dataDir + "/blobs")
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	oplogSvc := oplog.NewService(db.Indexed())
	statusStore := workerstatus.NewStore(db.KV())
	queue := workerfsm.NewInvocationQueue(db.KV())
	snapshots := snapshot.NewStore(blobs, noopStateProvider{})

	exec := executor.New(oplogSvc, statusStore, queue, snapshots, executor.SnapshotPolicy{EveryNInvocations: snapshotEveryN}, nil)
	exec.Scheduler().Start()
	defer exec.Scheduler().Stop()

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", grpcAddr, err)
	}

	server := grpc.NewServer(grpc.UnaryInterceptor(rpc.UnaryInterceptor))
	rpc.RegisterWorkerServiceServer(server, rpc.NewWorkerServer(exec, oplogSvc))
	rpc.RegisterHealth(server, "golem.WorkerService")

	go func() {
		logger.Info().Str("addr", grpcAddr).Msg("worker executor listening")
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

	if shardManagerAddr != "" {
		go registerWithShardManager(ctx, shardManagerAddr, shardmanager.Pod{Host: advertiseHost, Port: advertisePort}, logger)
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	server.GracefulStop()
	return nil
}

// registerWithShardManager dials the shard manager and registers this
// pod's advertised address, retrying with exponential backoff until it
// succeeds or ctx is cancelled. A worker-executor that can't register
// still serves the gRPC surface directly against its own local workers --
// registration only matters for cross-pod routing through a worker-proxy.
func registerWithShardManager(ctx context.Context, shardManagerAddr string, pod shardmanager.Pod, logger zerolog.Logger) {
	conn, err := rpc.Dial(ctx, shardManagerAddr)
	if err != nil {
		logger.Error().Err(err).Str("shard_manager", shardManagerAddr).Msg("dial shard manager")
		return
	}
	client := rpc.NewShardManagerClient(conn)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := client.RegisterPod(ctx, pod); err != nil {
			logger.Warn().Err(err).Str("pod", pod.String()).Dur("retry_in", backoff).Msg("register with shard manager failed, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		logger.Info().Str("pod", pod.String()).Msg("registered with shard manager")
		return
	}
}

// noopStateProvider satisfies snapshot.StateProvider for a deployment with
// no loaded WASM component whose linear memory needs capturing -- the
// worker's oplog is the whole of its state in that mode, so a snapshot
// anchors a replay-shortcut index without any extra payload.
type noopStateProvider struct{}

func (noopStateProvider) Capture(ctx context.Context, owned golem.OwnedWorkerId) ([]byte, error) {
	return nil, nil
}

func (noopStateProvider) Restore(ctx context.Context, owned golem.OwnedWorkerId, state []byte) error {
	return nil
}
