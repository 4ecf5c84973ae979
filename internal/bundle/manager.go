package bundle

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Manager keeps at most one loaded Bundle per absolute path. Concurrent
// opens of the same path share a single load.
type Manager struct {
	mu      sync.Mutex
	bundles map[string]*Bundle
	loads   singleflight.Group
	opts    *ReaderOptions
}

// NewManager creates a manager that loads bundles with opts.
func NewManager(opts *ReaderOptions) *Manager {
	return &Manager{
		bundles: make(map[string]*Bundle),
		opts:    opts,
	}
}

// Key returns the registry key for a path.
func Key(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving bundle path: %w", err)
	}
	return filepath.Clean(abs), nil
}

// Open returns the loaded bundle for p, loading it if needed. progress, if
// set, receives block decompression reports of a load started by this call.
func (m *Manager) Open(ctx context.Context, p string, progress ProgressCallback) (*Bundle, error) {
	key, err := Key(p)
	if err != nil {
		return nil, err
	}
	if b, ok := m.Get(key); ok {
		return b, nil
	}

	v, err, shared := m.loads.Do(key, func() (any, error) {
		if b, ok := m.Get(key); ok {
			return b, nil
		}
		opts := ReaderOptions{}
		if m.opts != nil {
			opts = *m.opts
		}
		if progress != nil {
			opts.Progress = progress
		}
		b, err := Load(ctx, key, &opts)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.bundles[key] = b
		m.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("Joined in-flight bundle load", "path", key)
	}
	return v.(*Bundle), nil
}

// Get returns an already loaded bundle.
func (m *Manager) Get(p string) (*Bundle, bool) {
	key, err := Key(p)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[key]
	return b, ok
}

// Release drops a bundle from the registry. It reports whether the bundle
// was loaded.
func (m *Manager) Release(p string) bool {
	key, err := Key(p)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.bundles[key]
	delete(m.bundles, key)
	return ok
}

// Paths lists the loaded bundles.
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.bundles))
	for p := range m.bundles {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
