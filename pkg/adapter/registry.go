package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Factory builds an unconnected adapter. A nil logger discards output.
type Factory func(*slog.Logger) Adapter

type registration struct {
	factory Factory
	aliases []string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]registration)
	aliases    = make(map[string]string)
)

// Register makes a source type available under name and its aliases.
// Adapter packages call it from init. Names are case-insensitive and a
// later registration replaces an earlier one.
func Register(name string, factory Factory, alias ...string) {
	name = normalize(name)
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = registration{factory: factory, aliases: alias}
	for _, a := range alias {
		aliases[normalize(a)] = name
	}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Canonical maps an alias such as "pg" to its registered name. Unknown
// names come back normalized.
func Canonical(name string) string {
	name = normalize(name)
	registryMu.RLock()
	defer registryMu.RUnlock()
	if c, ok := aliases[name]; ok {
		return c
	}
	return name
}

// Get returns the factory registered under name or one of its aliases.
func Get(name string) (Factory, bool) {
	name = Canonical(name)
	registryMu.RLock()
	defer registryMu.RUnlock()
	r, ok := registry[name]
	return r.factory, ok
}

// NewAdapter builds the adapter for cfg.Type without connecting it.
func NewAdapter(cfg core.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	if strings.TrimSpace(cfg.Type) == "" {
		return nil, core.Errorf(core.KindInvalidArgument, "source", "adapter type not specified")
	}
	factory, ok := Get(cfg.Type)
	if !ok {
		return nil, core.Wrap(&UnknownAdapterError{
			Type:      cfg.Type,
			Available: ListAdapters(),
		}, core.KindInvalidArgument, "source", "no such adapter")
	}
	return factory(logger), nil
}

// Open builds the adapter for cfg and connects it. A failed connection is
// an execution error, so callers surface it like a rejected query.
func Open(ctx context.Context, cfg core.AdapterConfig, logger *slog.Logger) (Adapter, error) {
	a, err := NewAdapter(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Connect(ctx, cfg); err != nil {
		return nil, core.Wrap(err, core.KindExecution, "source", "connect to "+Canonical(cfg.Type))
	}
	return a, nil
}

// ListAdapters returns the registered names, sorted. Aliases are omitted.
func ListAdapters() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns the aliases name was registered with.
func Aliases(name string) []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return append([]string(nil), registry[normalize(name)].aliases...)
}

// IsRegistered reports whether name or an alias of it is registered.
func IsRegistered(name string) bool {
	_, ok := Get(name)
	return ok
}

// UnknownAdapterError reports a source type nothing registered.
type UnknownAdapterError struct {
	Type      string
	Available []string
}

func (e *UnknownAdapterError) Error() string {
	return fmt.Sprintf("unknown source type %q (available: %s); check source.type in leapdash.yaml",
		e.Type, strings.Join(e.Available, ", "))
}
