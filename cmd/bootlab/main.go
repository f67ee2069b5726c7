package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bootlab-io/bootlab/internal/config"
	"github.com/bootlab-io/bootlab/internal/proxmox"
	"github.com/bootlab-io/bootlab/internal/store"
	"github.com/bootlab-io/bootlab/internal/telemetry"
)

var (
	cfgFile string

	cfg          *config.Config
	logger       *slog.Logger
	host         *proxmox.Client
	runStore     *store.Store
	telemetrySvc telemetry.Service
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bootlab",
	Short: "Bootlab - provision a lab VM on Proxmox and bootstrap its toolchain",
	Long: "Bootlab drives a single VM from absent to fully configured and reachable.\n" +
		"Re-running the same command is always safe: completed work is detected and skipped.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "version", "help":
			return nil
		}
		return initServices()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if telemetrySvc != nil {
			telemetrySvc.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/bootlab/config.yaml)")

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func initServices() error {
	configPath := cfgFile
	if configPath == "" {
		var err error
		configPath, err = config.DefaultConfigPath()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
	}

	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger = newLogger(cfg.Logging)
	slog.SetDefault(logger)

	pveCfg := proxmox.Config{
		Host:      cfg.Proxmox.Host,
		TokenID:   cfg.Proxmox.TokenID,
		Secret:    cfg.Proxmox.Secret,
		Node:      cfg.Proxmox.Node,
		VerifySSL: cfg.Proxmox.VerifySSL,
	}
	if err := pveCfg.Validate(); err != nil {
		return fmt.Errorf("proxmox config: %w", err)
	}
	host = proxmox.NewClient(pveCfg, logger.With("component", "proxmox"))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	runStore, err = store.Open(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		return err
	}

	if cfg.Telemetry.EnableAnonymousUsage {
		telemetrySvc = telemetry.New(os.Getenv("BOOTLAB_POSTHOG_API_KEY"), "")
	} else {
		telemetrySvc = &telemetry.NoopService{}
	}
	return nil
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
