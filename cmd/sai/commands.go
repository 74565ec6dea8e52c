package main

import (
	"errors"

	"github.com/spf13/cobra"

	"sai/internal/server"
	"sai/internal/telegram"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the REST API, the websocket channel and the daily reset",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			return server.Serve(c.Context(), a)
		},
	}
}

func workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consumes role sync tasks queued by the asynq dispatcher",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			srv, mux, err := a.NewWorkerServer()
			if err != nil {
				return err
			}
			if err := srv.Start(mux); err != nil {
				return err
			}
			a.Log.Info().Msg("role worker started")
			<-c.Context().Done()
			srv.Shutdown()
			a.Log.Info().Msg("role worker stopped")
			return nil
		},
	}
}

func resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reconciles every identity once and exits. Today counters are zeroed only once the accrual date has passed",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			report := a.Reset.RunOnce(c.Context())
			c.Printf("processed %d identities, %d failed\n", report.Processed, report.Failed)
			return nil
		},
	}
}

func rolesCommand() *cobra.Command {
	roles := &cobra.Command{
		Use:   "roles",
		Short: "Discord role maintenance",
	}
	roles.AddCommand(&cobra.Command{
		Use:   "resync",
		Short: "Schedules a role sync for every linked account",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			// Both dispatchers run on the worker pool, and Close drains it before closing the asynq client.
			defer a.Close()
			n, err := a.Ledger.ResyncAllRoles(c.Context())
			if err != nil {
				return err
			}
			c.Printf("scheduled %d role syncs\n", n)
			return nil
		},
	})
	return roles
}

func alertsCommand() *cobra.Command {
	alerts := &cobra.Command{
		Use:   "alerts",
		Short: "Telegram operator alerts",
	}
	alerts.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Sends a test message to the configured chat",
		RunE: func(c *cobra.Command, _ []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Telegram == nil {
				return errors.New("telegram alerts are disabled, set telegram.enabled")
			}
			if err := a.Telegram.SendNow(telegram.EscapeMarkdownV2("Hello from sai!")); err != nil {
				return err
			}
			c.Println("test alert sent")
			return nil
		},
	})
	return alerts
}
