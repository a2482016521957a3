// Command golemctl is the operator CLI for a Golem deployment: applying
// worker manifests, inspecting worker status, invoking and fetching workers
// over gRPC, and listing components, the Go counterpart of the teacher's
// cmd/warren CLI.
package main

import (
	"fmt"
	"os"

	"github.com/golem-go/golem/pkg/log"
	"github.com/spf13/cobra"
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
	Use:     "golemctl",
	Short:   "golemctl - operator CLI for a Golem worker-executor deployment",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("golemctl version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "./golem-data", "Local bbolt data directory this node reads/writes")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(componentCmd)
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
