package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// Opener connects to a backend and runs its migrations.
type Opener func(ctx context.Context, cfg *config.DatabaseConfig) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Opener)
)

// RegisterBackend registers a storage backend under one or more URL schemes.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(opener Opener, schemes ...string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	for _, s := range schemes {
		if _, dup := backends[s]; dup {
			panic("database: backend registered twice for scheme " + s)
		}
		backends[s] = opener
	}
}

// Backends returns the registered URL schemes, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]string, 0, len(backends))
	for s := range backends {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Scheme returns the URL scheme of a database URL ("postgres", "mysql", ...).
func Scheme(url string) string {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// Open connects to the backend selected by the scheme of cfg.URL.
func Open(ctx context.Context, cfg *config.DatabaseConfig) (Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	scheme := Scheme(cfg.URL)
	backendsMu.RLock()
	opener, ok := backends[scheme]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage backend for scheme %q (registered: %s)",
			scheme, strings.Join(Backends(), ", "))
	}

	store, err := opener(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", scheme, err)
	}
	return store, nil
}
