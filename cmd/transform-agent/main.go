package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/stagein/pkg/agent/transform"
	"github.com/cuemby/stagein/pkg/dataservice"
	"github.com/cuemby/stagein/pkg/log"
	"github.com/cuemby/stagein/pkg/metrics"
	"github.com/cuemby/stagein/pkg/storage"
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
	Use:     "transform-agent",
	Short:   "Drives Transform rows through stage-in reconciliation (§4.4)",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("transform-agent version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./stagein-data", "Data directory for the bbolt store")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health HTTP listen address")
	rootCmd.PersistentFlags().Int("bulk-size", 50, "Maximum number of Transforms claimed per tick")
	rootCmd.PersistentFlags().Duration("poll-interval", 10*time.Second, "Ticker period between claim cycles")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func run(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	bulkSize, _ := cmd.Flags().GetInt("bulk-size")
	pollInterval, _ := cmd.Flags().GetDuration("poll-interval")

	logger := log.WithComponent("transform-agent")

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "opened")

	ds, err := newDataService()
	if err != nil {
		metrics.RegisterComponent("dataservice", false, err.Error())
		return fmt.Errorf("construct dataservice client: %w", err)
	}
	metrics.RegisterComponent("dataservice", true, "configured")

	metrics.SetVersion(Version)

	agent := transform.New(store, ds, transform.Config{
		BulkSize:     bulkSize,
		PollInterval: pollInterval,
	})

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down")
	cancel()
	return nil
}

// newDataService is the pluggable construction point for the
// replication-service client (§1 Non-goal: "the replication-service
// client implementation itself"). No concrete backend ships with this
// engine; a deployment wires its own DataService here.
func newDataService() (dataservice.DataService, error) {
	return nil, fmt.Errorf("no dataservice backend configured: newDataService must be replaced with a concrete client")
}
