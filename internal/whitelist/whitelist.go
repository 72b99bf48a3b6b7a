// Package whitelist manages the persisted list of domains the filter leaves alone.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/shroud/internal/filter/gate"
	"github.com/xkilldash9x/shroud/internal/page"
	"github.com/xkilldash9x/shroud/internal/store"
)

// ErrNoDomain is returned when no domain can be derived from the input or the current page.
var ErrNoDomain = errors.New("whitelist: no domain")

// EmptyMessage is how an empty whitelist is rendered.
const EmptyMessage = "No whitelisted sites yet."

// Level classifies a Status for display.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Status is the user-facing outcome of a whitelist change.
type Status struct {
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

// Locator reports the location of the page currently in front of the user.
type Locator interface {
	Href() (string, error)
}

// Manager reads and edits the whitelist. Edits are read-modify-write and are serialized
// within one Manager; concurrent writers in other processes can still race.
type Manager struct {
	store  store.Store
	key    string
	logger *zap.Logger
	mu     sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithKey overrides the storage key, gate.DefaultKey by default.
func WithKey(key string) Option {
	return func(m *Manager) {
		if key != "" {
			m.key = key
		}
	}
}

func New(s store.Store, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{store: s, key: gate.DefaultKey, logger: logger.Named("whitelist")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// List returns the whitelist in insertion order. A missing list is empty.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	list, err := m.store.Get(ctx, m.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load whitelist: %w", err)
	}
	return list, nil
}

// Add appends the domain named by raw, which may be a bare domain or a URL.
func (m *Manager) Add(ctx context.Context, raw string) (Status, error) {
	domain, err := Normalize(raw)
	if err != nil {
		return errorStatus(fmt.Sprintf("%q is not a valid domain.", strings.TrimSpace(raw))), err
	}
	return m.add(ctx, domain)
}

// AddCurrent whitelists the domain of the page loc points at.
func (m *Manager) AddCurrent(ctx context.Context, loc Locator) (Status, error) {
	var domain string
	if loc != nil {
		if href, err := loc.Href(); err == nil {
			domain = page.HostOf(href)
		}
	}
	if domain == "" {
		return errorStatus("Could not get current domain."), ErrNoDomain
	}
	return m.add(ctx, domain)
}

func (m *Manager) add(ctx context.Context, domain string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.List(ctx)
	if err != nil {
		return errorStatus("Could not load the whitelist."), err
	}
	if indexOf(list, domain) >= 0 {
		return Status{Message: fmt.Sprintf("%q is already whitelisted.", domain), Level: LevelInfo}, nil
	}
	if err := m.store.Set(ctx, m.key, append(list, domain)); err != nil {
		return errorStatus("Could not save the whitelist."), fmt.Errorf("failed to save whitelist: %w", err)
	}
	m.logger.Info("Domain whitelisted.", zap.String("domain", domain))
	return Status{Message: fmt.Sprintf("%q added to whitelist.", domain), Level: LevelSuccess}, nil
}

// Remove deletes every entry equal to the normalized domain. Removing an absent domain
// writes nothing.
func (m *Manager) Remove(ctx context.Context, raw string) (Status, error) {
	domain, err := Normalize(raw)
	if err != nil {
		return errorStatus(fmt.Sprintf("%q is not a valid domain.", strings.TrimSpace(raw))), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list, err := m.List(ctx)
	if err != nil {
		return errorStatus("Could not load the whitelist."), err
	}
	if indexOf(list, domain) < 0 {
		return Status{Message: fmt.Sprintf("%q is not whitelisted.", domain), Level: LevelInfo}, nil
	}

	kept := make([]string, 0, len(list))
	for _, d := range list {
		if !strings.EqualFold(d, domain) {
			kept = append(kept, d)
		}
	}
	if err := m.store.Set(ctx, m.key, kept); err != nil {
		return errorStatus("Could not save the whitelist."), fmt.Errorf("failed to save whitelist: %w", err)
	}
	m.logger.Info("Domain removed from whitelist.", zap.String("domain", domain))
	return Status{Message: fmt.Sprintf("%q removed from whitelist.", domain), Level: LevelSuccess}, nil
}

// Render formats list one domain per line, or EmptyMessage.
func Render(list []string) string {
	if len(list) == 0 {
		return EmptyMessage
	}
	return strings.Join(list, "\n")
}

// Normalize reduces raw to a lowercase host name. Inputs with a scheme are parsed as URLs;
// bare inputs may carry a port or path, which are dropped.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.ContainsAny(s, " \t\r\n") {
		return "", ErrNoDomain
	}
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoDomain, err)
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", ErrNoDomain
	}
	return host, nil
}

func indexOf(list []string, domain string) int {
	for i, d := range list {
		if strings.EqualFold(d, domain) {
			return i
		}
	}
	return -1
}

func errorStatus(msg string) Status { return Status{Message: msg, Level: LevelError} }
