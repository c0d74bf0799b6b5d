package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/vertexdb/pkg/config"
	"github.com/orneryd/vertexdb/pkg/logging"
	"github.com/orneryd/vertexdb/pkg/vertexdb"
)

var commit = "dev"

// globalFlags are shared by every command that opens a store.
type globalFlags struct {
	configFile string
	envFile    string
	backend    string
	dataDir    string
	driver     string
	dsn        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "vertexdb",
		Short: "VertexDB - embeddable property-graph storage",
		Long: `VertexDB stores typed vertices, typed directed edges and JSON
properties on an embedded Badger store, PostgreSQL or SQLite.

This tool inspects and maintains a store:
  • schema migrations for the SQL backends
  • graph statistics
  • JSON-lines import and export
  • vertex and edge listings`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "YAML configuration file")
	pf.StringVar(&flags.envFile, "env-file", "", "dotenv file (default .env when present)")
	pf.StringVar(&flags.backend, "backend", "", "Storage backend: badger, sql or memory")
	pf.StringVar(&flags.dataDir, "data-dir", "", "Badger data directory")
	pf.StringVar(&flags.driver, "driver", "", "SQL driver: postgres or sqlite")
	pf.StringVar(&flags.dsn, "dsn", "", "SQL connection string or SQLite file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "VertexDB v%s (%s)\n", vertexdb.Version, commit)
			},
		},
		newMigrateCmd(flags),
		newStatsCmd(flags),
		newImportCmd(flags),
		newDumpCmd(flags),
		newVerticesCmd(flags),
		newEdgesCmd(flags),
		newCompactCmd(flags),
	)
	return rootCmd
}

// loadConfig layers command-line flags over the file and environment
// configuration. Only flags the user set take effect.
func (f *globalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{File: f.configFile, EnvFile: f.envFile})
	if err != nil {
		return nil, err
	}

	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Storage.Backend = f.backend
	}
	if changed("data-dir") {
		cfg.Storage.DataDir = f.dataDir
	}
	if changed("driver") {
		cfg.SQL.Driver = f.driver
	}
	if changed("dsn") {
		cfg.SQL.DSN = f.dsn
		// A DSN only means something to the SQL backend
		if !changed("backend") {
			cfg.Storage.Backend = config.BackendSQL
		}
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	return cfg, nil
}

// open loads the configuration and opens the store it names.
// The caller closes the returned DB.
func (f *globalFlags) open(cmd *cobra.Command) (*vertexdb.DB, error) {
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))

	return vertexdb.Open(cmd.Context(), cfg, logger)
}
