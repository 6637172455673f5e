package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oriys/asyncsql/client"
	"github.com/oriys/asyncsql/internal/config"
	"github.com/oriys/asyncsql/internal/logging"
	"github.com/oriys/asyncsql/internal/observability"
)

var (
	configFile  string
	dbURL       string
	driverID    string
	maxPoolSize int
	logLevel    string
	logFormat   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "asyncsql",
		Short:        "asyncsql - asynchronous SQL client",
		Long:         "Run statements through the asyncsql connection pool and worker pipeline",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "url", "", "Database URL (postgres://, mysql://, sqlite:)")
	rootCmd.PersistentFlags().StringVar(&driverID, "driver", "", "database/sql driver name (pgx, postgres, mysql, sqlite, sqlite3)")
	rootCmd.PersistentFlags().IntVar(&maxPoolSize, "max-pool-size", 0, "Maximum number of pooled connections")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(
		execCmd(),
		queryCmd(),
		benchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, environment and command-line flags,
// in that order, and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = dbURL
	}
	if flags.Changed("driver") {
		cfg.DriverID = driverID
	}
	if flags.Changed("max-pool-size") {
		cfg.MaxPoolSize = maxPoolSize
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = logFormat
	}

	if err := logging.Setup(os.Stderr, cfg.LogFormat, cfg.LogLevel); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openClient starts tracing if configured and creates the client. The
// returned function closes both.
func openClient(ctx context.Context, cfg *config.Config) (*client.Client, func(), error) {
	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "asyncsql",
		SampleRate:  cfg.Tracing.SampleRate,
	}); err != nil {
		return nil, nil, fmt.Errorf("init tracing: %w", err)
	}

	c, err := client.New(ctx, cfg)
	if err != nil {
		observability.Shutdown(context.Background())
		return nil, nil, err
	}
	return c, func() {
		if err := c.Close(); err != nil {
			logging.Op().Warn("close client", "error", err)
		}
		observability.Shutdown(context.Background())
	}, nil
}
