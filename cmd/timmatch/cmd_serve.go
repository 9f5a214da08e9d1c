package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httpserver "github.com/sawpanic/timmatch/internal/interfaces/http"
	"github.com/sawpanic/timmatch/internal/interfaces/http/handlers"
	"github.com/sawpanic/timmatch/internal/metrics"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fit API with /health and /metrics",
		Long: `Serve starts the JSON API: POST /fits runs a fit, GET /fits/{id} and its
sub-resources query stored fits. Fits are kept in memory unless a database
is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := root.file.Server
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			reg := metrics.NewMetricsRegistry(nil)
			b, err := openBackend(ctx, root.file, reg, cfg.MemoryFits)
			if err != nil {
				return err
			}
			defer b.Close()

			h := handlers.NewHandlers(handlers.Deps{
				Store:        b.store,
				Defaults:     root.file.Match,
				Metrics:      reg,
				Database:     b.database,
				Backend:      b.name,
				Cache:        b.cached,
				Version:      version,
				MaxBodyBytes: cfg.MaxBodyBytes,
			})
			server := httpserver.NewServer(cfg, h, reg)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Info().Msg("Server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Listen host")
	cmd.Flags().IntVar(&port, "port", 8080, "Listen port")
	return cmd
}
