// Command factdb is a thin CLI boundary over the factdb library: it
// exists to prove that factdb.Open and factdb.NewClient are sufficient
// to build a caller on top of, not to be the REPL/TUI the library itself
// stays out of.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreutil/factdb/internal/config"
)

var (
	dbPath        string
	saltFlag      string
	clientID      string
	configPath    string
	peersPath     string
	telemetryMode string
	rootCtx       = context.Background()

	telemetryShutdown = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "factdb",
	Short: "Personal append-only fact database",
	// PersistentPreRunE applies config.yaml defaults before any
	// subcommand runs, with explicit flags always taking precedence
	// (flag > env > file > default).
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("db") && cfg.DBPath != "" {
			dbPath = cfg.DBPath
		}
		if !cmd.Flags().Changed("salt") && cfg.Salt != "" {
			saltFlag = cfg.Salt
		}
		if !cmd.Flags().Changed("client") && cfg.ClientID != "" {
			clientID = cfg.ClientID
		}
		if !cmd.Flags().Changed("dynamo-table") && cfg.DynamoTable != "" {
			dynamoTable = cfg.DynamoTable
		}
		if !cmd.Flags().Changed("otel") && cfg.Telemetry != "" {
			telemetryMode = cfg.Telemetry
		}
		shutdown, err := setupTelemetry(rootCtx, telemetryMode)
		if err != nil {
			return err
		}
		telemetryShutdown = shutdown
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "facts.db", "store path, or dolt:// connection string")
	rootCmd.PersistentFlags().StringVar(&saltFlag, "salt", "", "id-codec salt (generated on first open if empty)")
	rootCmd.PersistentFlags().StringVar(&clientID, "client", "cli:"+os.Getenv("USER"), "client identity tagged on recorded changesets")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (defaults to ./config.yaml or ~/.factdb/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&peersPath, "peers", "peers.toml", "peers file listing replication sources")
	rootCmd.PersistentFlags().StringVar(&telemetryMode, "otel", "", "telemetry exporter: stdout or otlp (default none)")

	rootCmd.AddCommand(openCmd, qCmd, replicateCmd)

	err := rootCmd.Execute()
	if serr := telemetryShutdown(rootCtx); serr != nil {
		fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", serr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
