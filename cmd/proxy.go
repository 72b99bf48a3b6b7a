package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/observability"
	"github.com/xkilldash9x/shroud/internal/service"
)

func newProxyCmd() *cobra.Command {
	var (
		address string
		mitm    bool
	)

	proxyCmd := &cobra.Command{
		Use:   "proxy",
		Short: "Run a forward HTTP proxy that filters HTML responses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("address") {
				cfg.ProxyCfg.Address = address
			}
			if cmd.Flags().Changed("mitm") {
				cfg.ProxyCfg.MITM = mitm
			}
			return runProxy(cmd.Context(), observability.GetLogger(), cfg, newComponentFactory())
		},
	}

	proxyCmd.Flags().StringVar(&address, "address", "", "listen address (overrides config/env)")
	proxyCmd.Flags().BoolVar(&mitm, "mitm", false, "intercept HTTPS with the configured CA (overrides config/env)")
	return proxyCmd
}

// runProxy contains the logic of the proxy command, decoupled from cobra.
func runProxy(ctx context.Context, logger *zap.Logger, cfg config.Interface, factory service.ComponentFactory) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	srv, err := components.NewProxy()
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	return srv.Run(ctx)
}
