package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/jchantrell/abedit/internal/config"
)

var (
	cfg     *config.Config
	cfgFile string

	dbPath     string
	packer     string
	workers    int
	backup     bool
	logLevel   string
	logFormat  string
	noProgress bool
)

var rootCmd = &cobra.Command{
	Use:   "abedit",
	Short: "Unity asset bundle inspection and patching tool",
	Long: `abedit opens UnityFS asset bundles, lists and exports the objects they hold,
and replaces TextAsset and Texture2D payloads while keeping every other byte of
the bundle intact.

Edited bundles are written to a temporary file and renamed into place, so an
interrupted save never leaves a half-written bundle behind.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if cmd.Flags().Changed("database") {
			cfg.Database = dbPath
		}
		if cmd.Flags().Changed("packer") {
			cfg.Packer = packer
		}
		if cmd.Flags().Changed("workers") {
			cfg.Workers = workers
		}
		if cmd.Flags().Changed("backup") {
			cfg.Backup = backup
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid flags: %w", err)
		}

		var level slog.Level
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		var handler slog.Handler
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})
		} else {
			handler = tint.NewHandler(os.Stderr, &tint.Options{
				Level: level,
			})
		}

		slog.SetDefault(slog.New(handler))

		slog.Debug("Configuration",
			"packer", cfg.Packer,
			"workers", cfg.Workers,
			"max_bundle_size", cfg.MaxBundleSize,
			"object_alignment", cfg.ObjectAlignment,
			"block_size", cfg.BlockSize,
			"vendor_codecs", cfg.VendorCodecs,
			"database", cfg.Database,
			"backup", cfg.Backup,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat)

		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is abedit.yaml in home or pwd)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "database", "d", "", "catalog database file path")
	rootCmd.PersistentFlags().StringVar(&packer, "packer", "", "block compression for written bundles (original, none, lz4, lz4hc, lzma)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "maximum concurrent tasks")
	rootCmd.PersistentFlags().BoolVar(&backup, "backup", false, "copy a bundle to ~/.abedit/backups before overwriting it")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress bar")
}
