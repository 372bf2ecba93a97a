package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vectra"
	"github.com/hupe1980/vectra/config"
)

var (
	cfgFile string
	dataDir string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vectra",
	Short: "Vectra - local vector storage and similarity search",
	Long: `Vectra stores fixed-dimension vectors with typed metadata in on-disk
shards and answers exact nearest-neighbor queries under multiple distance
metrics. It can run as a one-shot CLI or serve a REST API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "", "data directory (default \"data\")")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig merges the config file with persistent flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	if dataDir != "" {
		cfg.Dir = dataDir
	}
	return cfg, nil
}

// openEngine builds the engine from the effective configuration.
func openEngine(cfg config.Config) (*vectra.Vectra, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return vectra.New(cfg.Dir,
		vectra.WithLogLevel(level),
		vectra.WithBatchSize(cfg.BatchSize),
		vectra.WithWriteThrough(cfg.WriteThrough),
		vectra.WithCacheMaxBytes(cfg.CacheMaxBytes()),
		vectra.WithCacheTTL(cfg.CacheTTL()),
		vectra.WithFlushInterval(cfg.FlushInterval()),
	)
}

// withEngine runs fn against a fully configured engine and closes it
// afterwards, flushing buffered writes.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, vt *vectra.Vectra) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	vt, err := openEngine(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	runErr := fn(ctx, vt)
	if cerr := vt.Close(ctx); cerr != nil && runErr == nil {
		runErr = cerr
	}
	return runErr
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if kind := vectra.Kind(err); kind != "" && kind != "internal" {
			fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
