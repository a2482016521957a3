// Command shard-manager runs the Golem shard manager: the process that
// owns the authoritative shard->pod routing table, accepts pod
// registrations over gRPC, and periodically health-checks every
// registered pod, rebalancing on failure. The Go counterpart of
// original_source/golem-shard-manager's binary entrypoint, wired through
// this module's pkg/rpc and pkg/shardmanager exactly as cmd/golemctl wires
// pkg/oplog and pkg/workerstatus for the embedded CLI mode.
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
	"github.com/golem-go/golem/pkg/shardmanager"
	"github.com/golem-go/golem/pkg/shardmanager/raftpersist"
	"github.com/golem-go/golem/pkg/storage/boltstore"
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
	Use:     "shard-manager",
	Short:   "shard-manager - Golem's shard->pod routing table authority",
	Version: Version,
	RunE:    runShardManager,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("shard-manager version %s (%s)\n", Version, Commit))

	flags := rootCmd.Flags()
	flags.String("grpc-addr", envDefault("GOLEM_SHARD_MANAGER_GRPC_ADDR", ":9021"), "gRPC listen address")
	flags.String("http-addr", envDefault("GOLEM_SHARD_MANAGER_HTTP_ADDR", ":9022"), "HTTP metrics/health listen address")
	flags.String("data-dir", envDefault("GOLEM_SHARD_MANAGER_DATA_DIR", "./golem-data/shard-manager"), "Local data directory for routing-table persistence")
	flags.Int("number-of-shards", 1024, "Fixed N_SHARDS for this cluster, set once at bootstrap")
	flags.Float64("rebalance-threshold", 0.1, "Fractional surplus over even share before a pod gives up shards")
	flags.Duration("health-check-period", 5*time.Second, "Interval between pod health sweeps")
	flags.Bool("raft", false, "Replicate the routing table via hashicorp/raft instead of a local file")
	flags.String("raft-node-id", "node1", "Raft server id, required when --raft is set")
	flags.String("raft-bind-addr", "127.0.0.1:9023", "Raft transport bind address, required when --raft is set")
	flags.Bool("raft-bootstrap", true, "Bootstrap a single-node Raft cluster on first start")
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

func runShardManager(cmd *cobra.Command, _ []string) error {
	logger := log.WithComponent("shard-manager")

	grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
	httpAddr, _ := cmd.Flags().GetString("http-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	numberOfShards, _ := cmd.Flags().GetInt("number-of-shards")
	rebalanceThreshold, _ := cmd.Flags().GetFloat64("rebalance-threshold")
	healthCheckPeriod, _ := cmd.Flags().GetDuration("health-check-period")
	useRaft, _ := cmd.Flags().GetBool("raft")
	raftNodeID, _ := cmd.Flags().GetString("raft-node-id")
	raftBindAddr, _ := cmd.Flags().GetString("raft-bind-addr")
	raftBootstrap, _ := cmd.Flags().GetBool("raft-bootstrap")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	persistence, closeStore, err := openPersistence(dataDir, numberOfShards, useRaft, raftBootstrap, raftpersist.Config{
		NodeID:         raftNodeID,
		BindAddr:       raftBindAddr,
		DataDir:        dataDir,
		NumberOfShards: numberOfShards,
	})
	if err != nil {
		return fmt.Errorf("open routing table persistence: %w", err)
	}
	defer closeStore()

	management, err := shardmanager.New(ctx, persistence, shardmanager.NewGrpcHealthCheck(), rebalanceThreshold)
	if err != nil {
		return fmt.Errorf("load routing table: %w", err)
	}
	management.StartHealthCheck(healthCheckPeriod)
	defer management.StopHealthCheck()

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", grpcAddr, err)
	}

	server := grpc.NewServer(grpc.UnaryInterceptor(rpc.UnaryInterceptor))
	rpc.RegisterShardManagerServiceServer(server, rpc.NewShardManagerServer(management))
	rpc.RegisterHealth(server, "golem.ShardManagerService")

	go func() {
		logger.Info().Str("addr", grpcAddr).Int("number_of_shards", numberOfShards).Msg("shard manager listening")
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

// openPersistence picks between the default bbolt-backed KVPersistence and
// the opt-in Raft-replicated one, the Go shape of the original's
// Redis-vs-file RoutingTablePersistence choice generalized to this module's
// storage backends.
func openPersistence(dataDir string, numberOfShards int, useRaft, bootstrap bool, raftCfg raftpersist.Config) (shardmanager.Persistence, func(), error) {
	if useRaft {
		p, err := raftpersist.New(raftCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("start raft persistence: %w", err)
		}
		if bootstrap {
			if err := p.Bootstrap(); err != nil {
				return nil, nil, fmt.Errorf("bootstrap raft cluster: %w", err)
			}
		} else if err := p.Join(); err != nil {
			return nil, nil, fmt.Errorf("join raft cluster: %w", err)
		}
		return p, func() { _ = p.Shutdown() }, nil
	}

	db, err := boltstore.Open(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open bbolt db: %w", err)
	}
	return shardmanager.NewKVPersistence(db.KV(), numberOfShards), func() { _ = db.Close() }, nil
}
