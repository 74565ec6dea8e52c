package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"sai/internal/app"
)

// Serve runs the http server, the redis push bridge and the daily reset until ctx is done,
// then shuts them down in reverse order.
func Serve(ctx context.Context, a *app.App) error {
	conf := a.Config.Server

	if a.Config.Ledger.ClearStaleNodesOnStart {
		clearCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := a.Store.ClearNodeConnections(clearCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("clear stale node flags: %w", err)
		}
	}

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	bridgeDone := make(chan struct{})
	if a.Bridge != nil {
		go func() {
			defer close(bridgeDone)
			if err := a.Bridge.Run(bridgeCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.Log.Error().Err(err).Msg("push bridge stopped")
			}
		}()
	} else {
		close(bridgeDone)
	}

	if err := a.Reset.Start(); err != nil {
		return fmt.Errorf("start daily reset: %w", err)
	}

	srv := &http.Server{
		Addr:         conf.Host + ":" + strconv.Itoa(conf.Port),
		Handler:      NewRouter(a),
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
		IdleTimeout:  conf.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.Log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.Log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	a.Reset.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn().Err(err).Msg("http shutdown")
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	closed := a.Hub.CloseAll()
	a.Engine.Shutdown(shutdownCtx)

	stopBridge()
	<-bridgeDone

	a.Log.Info().Int("ws_sessions", closed).Msg("gracefully stopped")
	return runErr
}
