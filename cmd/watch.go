package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/shroud/internal/api"
	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/observability"
	"github.com/xkilldash9x/shroud/internal/service"
)

// errTabClosed ends a watch run whose page went away.
var errTabClosed = errors.New("browser tab closed")

// watchOptions are the inputs of one `shroud watch` run.
type watchOptions struct {
	url     string
	withAPI bool
}

func newWatchCmd() *cobra.Command {
	var (
		opts         watchOptions
		headless     bool
		debounce     time.Duration
		pollInterval time.Duration
	)

	watchCmd := &cobra.Command{
		Use:   "watch <url>",
		Short: "Open a page in a browser and keep it filtered as it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			// Flags override config/env.
			if cmd.Flags().Changed("headless") {
				cfg.SetBrowserHeadless(headless)
			}
			if cmd.Flags().Changed("debounce") {
				cfg.SetFilterDebounce(debounce)
			}
			if cmd.Flags().Changed("poll-interval") {
				cfg.SetFilterPollInterval(pollInterval)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			opts.url = normalizeURL(args[0])
			return runWatch(cmd.Context(), observability.GetLogger(), cfg, newComponentFactory(), opts)
		},
	}

	watchCmd.Flags().BoolVar(&headless, "headless", false, "run the browser without a window (overrides config/env)")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet period before mutations are scanned (overrides config/env)")
	watchCmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "location poll interval (overrides config/env)")
	watchCmd.Flags().BoolVar(&opts.withAPI, "api", false, "also serve the whitelist API, including POST /api/whitelist/current")
	return watchCmd
}

// runWatch contains the logic of the watch command, decoupled from cobra.
func runWatch(ctx context.Context, logger *zap.Logger, cfg config.Interface, factory service.ComponentFactory, opts watchOptions) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	browser, err := components.StartBrowser(ctx)
	if err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	tab, err := browser.OpenTab(ctx, opts.url)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", opts.url, err)
	}
	defer tab.Close()

	logger.Info("Watching page.", zap.String("url", opts.url))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Closing the tab ends the engine with a nil error; treat that as the end of the run.
		if err := components.NewEngine(tab).Run(gctx); err != nil {
			return err
		}
		return errTabClosed
	})
	if opts.withAPI {
		srv := components.NewAPI(api.WithLocator(tab))
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()
	switch {
	case errors.Is(err, errTabClosed):
		logger.Info("Browser tab closed.")
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return ctx.Err()
	default:
		return err
	}
}

// normalizeURL adds https:// to targets given without a scheme.
func normalizeURL(target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "about:") || strings.HasPrefix(target, "data:") {
		return target
	}
	return "https://" + target
}
