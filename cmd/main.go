package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"archiver/internal/config"
	pkglog "archiver/pkg/log"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "archiver",
		Short:         "Create zip archives with 7-Zip or the built-in writer",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to the config file (default ./config.yaml)")

	root.AddCommand(newRunCmd(), newProbeCmd(), newWorkerCmd())
	return root
}

// loadConfig reads the file named by --config. Interactive commands keep
// stdout for results, so stdout logging is moved to the console writer.
func loadConfig(cmd *cobra.Command, interactive bool) (*config.Config, zerolog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.NewConfig(cmd.Context(), path)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load config: %w", err)
	}
	if interactive && (cfg.Log.Path == "" || cfg.Log.Path == "stdout") {
		cfg.Log.Path = "console"
	}
	return cfg, pkglog.New(cfg.Log), nil
}
