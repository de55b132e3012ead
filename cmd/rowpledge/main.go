package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowpledge/internal/config"
)

var (
	configPath string
	debugLog   bool
)

var rootCmd = &cobra.Command{
	Use:           "rowpledge",
	Short:         "rowpledge - rowing pledge campaign tracker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd, syncCmd, leaderboardCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newLogger sets up structured logging
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if debugLog {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig reads the config file, falling back to defaults when it is missing
func loadConfig(logger *slog.Logger) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "path", configPath, "error", err)
		cfg = config.DefaultConfig()
	}
	return cfg
}
