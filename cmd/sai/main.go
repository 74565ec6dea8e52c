package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sai/internal/app"
)

var configPath string

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "sai",
		Short:         "SAI Labs points ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the yaml config file (default ./config/config.yaml)")
	c.AddCommand(serveCommand(), workerCommand(), resetCommand(), rolesCommand(), alertsCommand())
	return c
}

// setup loads the configuration and wires the application.
func setup() (*app.App, error) {
	conf, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	log := app.NewLogger(conf.Logger, os.Stderr)
	if conf.Path != "" {
		log.Info().Str("path", conf.Path).Msg("config loaded")
	}
	return app.Init(conf, log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Error().Err(err).Msg("sai failed")
		os.Exit(1)
	}
}
