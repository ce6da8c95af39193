// Package gateway defines the document-store contract the lead service
// writes through, the registry that opens a concrete driver from a connection
// URL, and the read-only probe behind the diagnostic endpoint.
//
// The store is optional. Startup never fails because of it: Open records the
// outcome in a Handle, and callers degrade based on what the Handle holds.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNotConfigured means no database URL was provided.
	ErrNotConfigured = errors.New("database url not configured")
	// ErrDriverNotFound means no driver is registered for the requested backend.
	ErrDriverNotFound = errors.New("database driver not found")
)

// Gateway stores schemaless documents grouped in named collections.
type Gateway interface {
	// CreateDocument stores payload under category and returns the new document ID.
	CreateDocument(ctx context.Context, category string, payload map[string]any) (string, error)
	// ListCollectionNames returns the names of the existing collections.
	ListCollectionNames(ctx context.Context) ([]string, error)
	// Close releases the underlying connection resources.
	Close() error
}

// IDGenerator produces document IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Settings carries everything a driver needs to connect.
type Settings struct {
	URL             string
	Name            string
	Driver          string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	IDs             IDGenerator
	Clock           Clock
}

// URLConfigured reports whether a connection URL is present.
func (s Settings) URLConfigured() bool { return strings.TrimSpace(s.URL) != "" }

// NameConfigured reports whether a database name is present.
func (s Settings) NameConfigured() bool { return strings.TrimSpace(s.Name) != "" }

// Handle is the startup outcome of opening the gateway. Exactly one of
// Gateway and Err is set once Open returns.
type Handle struct {
	Gateway Gateway
	Err     error
	Driver  string
}

// Ready reports whether a usable gateway was opened.
func (h *Handle) Ready() bool {
	return h != nil && h.Gateway != nil
}

// Close closes the gateway if one was opened.
func (h *Handle) Close() error {
	if !h.Ready() {
		return nil
	}
	if err := h.Gateway.Close(); err != nil {
		return fmt.Errorf("close %s gateway: %w", h.Driver, err)
	}
	return nil
}

// Opener constructs a Gateway from Settings.
type Opener func(ctx context.Context, s Settings) (Gateway, error)

// Registry maps driver names and URL schemes to openers.
type Registry struct {
	mu      sync.RWMutex
	openers map[string]Opener
	schemes map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		openers: make(map[string]Opener),
		schemes: make(map[string]string),
	}
}

// Register installs open under name and routes each URL scheme to it.
func (r *Registry) Register(name string, open Opener, schemes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.ToLower(name)
	r.openers[name] = open
	r.schemes[name] = name
	for _, scheme := range schemes {
		r.schemes[strings.ToLower(scheme)] = name
	}
}

// Drivers lists the registered driver names.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.openers))
	for name := range r.openers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open resolves the driver for s and opens it. Failures are captured in the
// returned Handle rather than returned.
func (r *Registry) Open(ctx context.Context, s Settings) *Handle {
	if !s.URLConfigured() {
		return &Handle{Err: ErrNotConfigured}
	}
	name, err := r.resolve(s)
	if err != nil {
		return &Handle{Err: err}
	}
	r.mu.RLock()
	open := r.openers[name]
	r.mu.RUnlock()

	gw, err := open(ctx, s)
	if err != nil {
		return &Handle{Err: fmt.Errorf("open %s gateway: %w", name, err), Driver: name}
	}
	return &Handle{Gateway: gw, Driver: name}
}

func (r *Registry) resolve(s Settings) (string, error) {
	key := strings.ToLower(strings.TrimSpace(s.Driver))
	if key == "" {
		u, err := url.Parse(s.URL)
		if err != nil || u.Scheme == "" {
			return "", fmt.Errorf("%w: cannot determine scheme of database url", ErrDriverNotFound)
		}
		key = strings.ToLower(u.Scheme)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.schemes[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrDriverNotFound, key)
	}
	return name, nil
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
