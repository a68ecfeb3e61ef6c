package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Game contract event indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream contract events into the store and live subscribers",
		RunE:  runPipeline,
	}

	runCmd.Flags().String("ws-url", "", "websocket RPC URL (ws:// or wss://)")
	runCmd.Flags().String("challenge-address", "", "coin flip contract address")
	runCmd.Flags().String("pool-address", "", "prize pool contract address")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("listen", ":8080", "HTTP listen address for /ws, /metrics, /healthz and /analytics")
	runCmd.Flags().Duration("reconnect-delay", 2*time.Second, "delay before redialing after a transport failure")
	runCmd.Flags().Int("analytics-days", 7, "default analytics window in days (1-90)")
	runCmd.Flags().Duration("analytics-max-age", 10*time.Second, "maximum age of a cached analytics snapshot")
	runCmd.Flags().Duration("analytics-debounce", 1500*time.Millisecond, "delay coalescing analytics recomputes")
	runCmd.Flags().String("analytics-timezone", "UTC", "time zone for daily and monthly analytics buckets")
	runCmd.Flags().Int("leaderboard-size", 50, "rows in leaderboard broadcasts")
	runCmd.Flags().Int("dispatch-workers", 4, "concurrent event handlers")
	runCmd.Flags().String("nats-url", "", "optional NATS servers for republishing notifications")
	runCmd.Flags().String("nats-subject-prefix", "wave", "NATS subject prefix")
	runCmd.Flags().String("audit-log", "", "optional JSONL file for pool and payout notices")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into typed events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/typed_events.jsonl", "output typed events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("challenge-address", "", "coin flip contract address")
	decodeCmd.Flags().String("pool-address", "", "prize pool contract address")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newAccountCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
