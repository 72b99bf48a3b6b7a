package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/observability"
	"github.com/xkilldash9x/shroud/internal/service"
)

func newServeCmd() *cobra.Command {
	var (
		address   string
		withProxy bool
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the whitelist management API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.APICfg.Address = address
			}
			return runServe(cmd.Context(), observability.GetLogger(), cfg, newComponentFactory(), withProxy)
		},
	}

	serveCmd.Flags().StringVar(&address, "address", "", "API listen address (overrides config/env)")
	serveCmd.Flags().BoolVar(&withProxy, "proxy", false, "also run the filtering proxy over the same whitelist")
	return serveCmd
}

// runServe contains the logic of the serve command, decoupled from cobra.
func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, factory service.ComponentFactory, withProxy bool) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	apiServer := components.NewAPI()
	g, gctx := errgroup.WithContext(ctx)
	if withProxy {
		proxyServer, err := components.NewProxy()
		if err != nil {
			return fmt.Errorf("failed to create proxy: %w", err)
		}
		g.Go(func() error { return proxyServer.Run(gctx) })
	}
	g.Go(func() error { return apiServer.Run(gctx) })
	return g.Wait()
}
