package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/cognitive-trace/internal/api"
	"github.com/danielpatrickdp/cognitive-trace/internal/logging"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and drain the persistence spool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := wire(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := api.NewServer(a.orch, api.Options{
				Addr:            cfg.Server.Addr,
				Mode:            cfg.Server.Mode,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
				Provider:        a.provider,
				Breakers:        a.breakers.Stats,
				Probe:           a.probe,
			})
			if err != nil {
				return err
			}

			logger := logging.New("SERVE")
			logger.Info("starting",
				"addr", cfg.Server.Addr,
				"db", cfg.Database.Path,
				"provider", cfg.Provider.Kind,
				"spool", cfg.Spool.Kind,
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(gctx) })
			g.Go(func() error {
				err := a.orch.Spool().Run(gctx, a.orch.Sink)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			if err := g.Wait(); err != nil {
				logger.Error("stopped", "err", err)
				return err
			}
			logger.Info("stopped")
			return nil
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	return cmd
}
