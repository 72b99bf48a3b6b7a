package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/observability"
	"github.com/xkilldash9x/shroud/internal/service"
	"github.com/xkilldash9x/shroud/internal/whitelist"
)

// whitelist actions.
const (
	actionList   = "list"
	actionAdd    = "add"
	actionRemove = "remove"
)

func newWhitelistCmd() *cobra.Command {
	whitelistCmd := &cobra.Command{
		Use:     "whitelist",
		Aliases: []string{"wl"},
		Short:   "List and edit the sites that are never filtered",
	}

	run := func(action string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			var domain string
			if len(args) > 0 {
				domain = args[0]
			}
			return runWhitelist(cmd.Context(), observability.GetLogger(), cfg, newComponentFactory(), cmd.OutOrStdout(), action, domain)
		}
	}

	whitelistCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the whitelisted sites",
		Args:  cobra.NoArgs,
		RunE:  run(actionList),
	})
	whitelistCmd.AddCommand(&cobra.Command{
		Use:   "add <domain-or-url>",
		Short: "Whitelist a site",
		Args:  cobra.ExactArgs(1),
		RunE:  run(actionAdd),
	})
	whitelistCmd.AddCommand(&cobra.Command{
		Use:     "remove <domain>",
		Aliases: []string{"rm"},
		Short:   "Remove a site from the whitelist",
		Args:    cobra.ExactArgs(1),
		RunE:    run(actionRemove),
	})
	return whitelistCmd
}

// runWhitelist contains the logic of the whitelist subcommands, decoupled from cobra. Status
// messages go to out; an error status is also returned so the process exits non-zero.
func runWhitelist(ctx context.Context, logger *zap.Logger, cfg config.Interface, factory service.ComponentFactory,
	out io.Writer, action, domain string) error {

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()
	wl := components.Whitelist

	var st whitelist.Status
	switch action {
	case actionList:
		sites, err := wl.List(ctx)
		if err != nil {
			fmt.Fprintln(out, "Could not load the whitelist.")
			return err
		}
		_, err = fmt.Fprintln(out, whitelist.Render(sites))
		return err
	case actionAdd:
		st, err = wl.Add(ctx, domain)
	case actionRemove:
		st, err = wl.Remove(ctx, domain)
	default:
		return fmt.Errorf("unknown whitelist action %q", action)
	}

	fmt.Fprintln(out, st.Message)
	return err
}
