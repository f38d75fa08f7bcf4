package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	forgehttp "github.com/sanvibhowmick/forge/internal/http"
)

func newServeCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve run history, live stage events and metrics over HTTP",
		Long: `Serve exposes the run history as JSON, streams live stage events as
server-sent events when the NATS event stream is enabled, and serves
Prometheus metrics on /metrics.

Endpoints:
  GET  /health
  GET  /metrics
  GET  /api/v1/runs
  GET  /api/v1/runs/:id
  GET  /api/v1/runs/:id/events
  POST /api/v1/scrub`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.openHistory()
			if err != nil {
				return err
			}

			cfg := &forgehttp.Config{Host: a.cfg.Server.Host, Port: a.cfg.Server.Port}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			opts := []forgehttp.Option{
				forgehttp.WithMetrics(forgehttp.NewHTTPMetrics(a.telemetry.Meter("forge/http"), a.zapLogger())),
			}
			if a.redactor != nil {
				opts = append(opts, forgehttp.WithRedactor(a.redactor))
			}
			if a.cfg.Events.Enabled {
				pub, err := a.openEvents()
				if err != nil {
					return err
				}
				opts = append(opts, forgehttp.WithEventStream(pub))
			}

			srv, err := forgehttp.NewServer(store, a.zapLogger().Named("http"), cfg, opts...)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				a.logger.Warn(sctx, "http shutdown failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
