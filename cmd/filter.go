package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/xkilldash9x/shroud/internal/config"
	"github.com/xkilldash9x/shroud/internal/filter/gate"
	"github.com/xkilldash9x/shroud/internal/filter/scanner"
	"github.com/xkilldash9x/shroud/internal/network"
	"github.com/xkilldash9x/shroud/internal/observability"
	"github.com/xkilldash9x/shroud/internal/page"
	"github.com/xkilldash9x/shroud/internal/page/memory"
	"github.com/xkilldash9x/shroud/internal/service"
)

// pageFetcher retrieves remote documents for `shroud filter <url>`.
type pageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*network.Page, error)
}

// newFetcher is swapped out by tests.
var newFetcher = func(cfg config.Interface) pageFetcher {
	clientCfg := network.NewDefaultClientConfig()
	clientCfg.IgnoreTLSErrors = cfg.Browser().IgnoreTLSErrors
	clientCfg.MaxBodySize = cfg.Proxy().MaxBodySize
	clientCfg.Logger = observability.GetLogger().Named("fetch")
	return network.NewClient(clientCfg)
}

// filterOptions are the inputs of one `shroud filter` run.
type filterOptions struct {
	source string
	href   string
	output string
}

func newFilterCmd() *cobra.Command {
	var opts filterOptions

	filterCmd := &cobra.Command{
		Use:   "filter <file|url|->",
		Short: "Filter one HTML document and print the result",
		Long: `Filter parses an HTML document from a file, a URL or stdin ("-"), runs one full scan
over it unless its site is whitelisted, and writes the filtered markup to stdout or --output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			opts.source = args[0]

			out := cmd.OutOrStdout()
			if opts.output != "" {
				f, err := os.Create(opts.output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}
			return runFilter(cmd.Context(), observability.GetLogger(), cfg, newComponentFactory(),
				newFetcher(cfg), opts, cmd.InOrStdin(), out)
		},
	}

	filterCmd.Flags().StringVar(&opts.href, "href", "", "location of the document, used for the whitelist check (defaults to the URL fetched)")
	filterCmd.Flags().StringVarP(&opts.output, "output", "o", "", "write the filtered document to this file instead of stdout")
	return filterCmd
}

// runFilter contains the logic of the filter command, decoupled from cobra.
func runFilter(ctx context.Context, logger *zap.Logger, cfg config.Interface, factory service.ComponentFactory,
	fetcher pageFetcher, opts filterOptions, in io.Reader, out io.Writer) error {

	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	doc, err := loadDocument(ctx, fetcher, opts, in)
	if err != nil {
		return err
	}
	defer doc.Close()

	res, filtered, err := filterOnce(ctx, components, doc)
	if err != nil {
		return err
	}
	logger.Info("Document filtered.",
		zap.String("identity", page.Identity(doc)),
		zap.Bool("filtered", filtered),
		zap.Int("removed", res.Removed),
		zap.Int("redacted", res.Redacted),
		zap.Int("failures", res.Failures))

	if err := doc.Render(out); err != nil {
		return fmt.Errorf("failed to render document: %w", err)
	}
	return nil
}

// loadDocument reads the source named by opts into a memory document.
func loadDocument(ctx context.Context, fetcher pageFetcher, opts filterOptions, in io.Reader) (*memory.Document, error) {
	var (
		r           io.Reader
		href        = opts.href
		contentType string
	)
	switch {
	case strings.HasPrefix(opts.source, "http://") || strings.HasPrefix(opts.source, "https://"):
		p, err := fetcher.Fetch(ctx, opts.source)
		if err != nil {
			return nil, err
		}
		if href == "" {
			href = p.Href
		}
		r, contentType = bytes.NewReader(p.Body), p.ContentType
	case opts.source == "-":
		r = in
	default:
		f, err := os.Open(opts.source)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", opts.source, err)
		}
		defer f.Close()
		r = f
	}

	text, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, fmt.Errorf("charset: %w", err)
	}
	return memory.Parse(text, href)
}

// filterOnce makes the single scan of a one-shot run. A document without a site cannot be
// whitelisted, so it is always filtered.
func filterOnce(ctx context.Context, c *service.Components, doc *memory.Document) (scanner.Result, bool, error) {
	if identity := page.Identity(doc); identity != "" {
		lookupCtx := ctx
		if timeout := c.Config.Whitelist().Timeout; timeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		whitelisted, err := gate.IsWhitelisted(lookupCtx, c.Store, c.Config.Whitelist().Key, identity)
		if err != nil {
			return scanner.Result{}, false, err
		}
		if whitelisted {
			return scanner.Result{}, false, nil
		}
	}

	doc.Lock()
	defer doc.Unlock()
	body := doc.Body()
	if body == nil {
		return scanner.Result{}, false, nil
	}
	return c.Scanner.Scan(doc, body), true, nil
}
