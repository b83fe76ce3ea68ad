package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jrepp/prism-data-layer/pkg/config"
	"github.com/spf13/cobra"
)

var v = config.New("")

var rootCmd = &cobra.Command{
	Use:   "worker-launcher",
	Short: "Launch and track sandboxed and privileged worker processes",
	Long: `worker-launcher starts worker processes into two bounded slot pools.

Sandboxed workers (renderers, utilities) and privileged workers (the GPU
process) each occupy one slot of their pool. Requests that find no free slot
wait in a FIFO queue until a worker terminates.

Configuration is read from worker-launcher.yaml and WORKER_LAUNCHER_*
environment variables; flags take precedence.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: ./worker-launcher.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
}

// loadConfig loads configuration and installs the default logger
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)

	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using config file", "path", used)
	}
	return cfg, logger, nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", "worker-launcher")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), Version)
	},
}

// bindFlag binds a command flag to a config key
func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}
