// internal/browser/options.go
package browser

import (
	"runtime"
	"strconv"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/shroud/internal/config"
)

// flag is one command line switch; a false bool drops the switch.
type flag struct {
	name  string
	value any
}

// DefaultAllocatorOptions assembles the exec allocator options for cfg on top of chromedp's
// defaults. Later flags win, so the defaults' headless and automation switches are overridden.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

func allocatorFlags(cfg config.BrowserConfig, goos string) []flag {
	flags := []flag{
		{"enable-automation", false},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
	}
	if cfg.Headless {
		flags = append(flags, flag{"headless", "new"})
	} else {
		flags = append(flags, flag{"headless", false}, flag{"hide-scrollbars", false}, flag{"mute-audio", false})
	}

	if cfg.IgnoreTLSErrors {
		flags = append(flags, flag{"ignore-certificate-errors", true}, flag{"allow-insecure-localhost", true})
	}

	if cfg.DisableCache {
		flags = append(flags,
			flag{"disk-cache-size", "1"},
			flag{"media-cache-size", "1"},
			flag{"disable-cache", true},
		)
	}

	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		flags = append(flags, flag{"window-size", strconv.Itoa(w) + "," + strconv.Itoa(h)})
	}

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, flag{name, parts[1]})
		} else {
			flags = append(flags, flag{name, true})
		}
	}

	// Containers (Docker on Linux) need these.
	if goos == "linux" {
		flags = append(flags,
			flag{"no-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"disable-setuid-sandbox", true},
		)
	}
	return flags
}
