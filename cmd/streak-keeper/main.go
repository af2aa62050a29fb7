package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/streak-keeper/internal/config"
)

var (
	configPath string
	logLevel   string
	envFile    string

	rootCmd = &cobra.Command{
		Use:   "streak-keeper",
		Short: "Streak Keeper - backdated commit scheduler",
		Long: `Streak Keeper plans backfill commits for chosen past days, stores them,
and pushes each one to its repository once its scheduled time has come.
Every commit is recorded with its outcome so failures can be retried.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	cfg *config.Config
	log *logrus.Entry
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with access tokens")
}

// setup loads dotenv files and the configuration, then configures logging
func setup(cmd *cobra.Command, args []string) error {
	// Missing .env files are fine; tokens may come from the environment
	_ = godotenv.Load()

	var err error
	cfg, err = config.LoadWithLocalFallback(configPath)
	if err != nil {
		return err
	}

	file := envFile
	if file == "" {
		file = cfg.Git.EnvFile
	}
	if file != "" {
		if err := godotenv.Load(config.ExpandPath(file)); err != nil {
			return fmt.Errorf("loading env file %s: %w", file, err)
		}
	}

	level := cfg.General.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger, err := newLogger(level, cfg.General.LogFormat)
	if err != nil {
		return err
	}
	log = logrus.NewEntry(logger)
	return nil
}

func newLogger(level, format string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(lvl)
	}
	switch format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("invalid log format %q (expected text or json)", format)
	}
	return logger, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
