package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dealmoa/deal-crawler/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "deal-crawler",
		Short:         "Crawls Korean hot-deal boards and keeps a deduplicated deal store",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./configs/config.yaml or $CONFIG_PATH)")

	root.AddCommand(serveCommand(), crawlCommand(), jobsCommand())

	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	if configPath != "" {
		_ = os.Setenv("CONFIG_PATH", configPath)
	}
	return config.Get()
}
