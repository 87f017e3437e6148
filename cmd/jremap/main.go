package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"

	"jremap/internal/config"
	"jremap/internal/container"
	"jremap/internal/pipeline"
	"jremap/internal/rename"
	"jremap/internal/storage"
)

// Exit codes beyond 1 let scripts tell bad input from a bad mapping.
const (
	exitError        = 1
	exitInconsistent = 2
	exitMalformed    = 3
)

var (
	rootCmd = &cobra.Command{
		Use:           "jremap",
		Short:         "Carry symbol names across obfuscated JVM builds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if dbPath != "" {
				c.Store.Path = dbPath
			}
			if verbose {
				c.Log.Level = "debug"
			}
			log.SetLevel(c.LogLevel())
			cfg = c
			return nil
		},
	}
	configPath string
	dbPath     string
	verbose    bool
	cfg        *config.Config
)

func main() {
	log.SetHandler(cli.New(os.Stderr))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, rename.ErrInconsistentMapping):
		return exitInconsistent
	case errors.Is(err, container.ErrMalformedContainer):
		return exitMalformed
	}
	return exitError
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Path to the mapping store (SQLite), overrides store.path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(remapCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(decompileCmd)
	rootCmd.AddCommand(coverageCmd)
}

// openPipeline opens the configured store. The caller closes it.
func openPipeline() (*pipeline.Pipeline, storage.VersionStore, error) {
	store, err := storage.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store %s: %w", cfg.Store.Path, err)
	}
	return pipeline.New(store, cfg, os.Stdout), store, nil
}
