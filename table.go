package shimz

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

type tableEntry struct {
	wrapper Wrapper
	method  string
}

// Table collects wrappers per resource at startup and applies them to
// concrete targets through an Installer.
type Table struct {
	installer *Installer
	logger    *zap.Logger
	entries   map[string][]tableEntry
	mu        sync.RWMutex
}

// NewTable creates a table backed by installer.
func NewTable(installer *Installer) *Table {
	return &Table{
		installer: installer,
		logger:    installer.logger.Named("table"),
		entries:   make(map[string][]tableEntry),
	}
}

// Register adds wrapper for resource.method. Registering the same method
// twice keeps the latest wrapper.
func (t *Table) Register(resource, method string, wrapper Wrapper) {
	if wrapper == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := t.entries[resource]
	for i := range entries {
		if entries[i].method == method {
			entries[i].wrapper = wrapper
			return
		}
	}
	t.entries[resource] = append(entries, tableEntry{method: method, wrapper: wrapper})
}

// Apply installs every wrapper registered for resource on target and returns
// how many were installed.
func (t *Table) Apply(resource string, target any) int {
	t.mu.RLock()
	entries := make([]tableEntry, len(t.entries[resource]))
	copy(entries, t.entries[resource])
	t.mu.RUnlock()

	if len(entries) == 0 {
		t.logger.Warn("no wrappers registered", zap.String("resource", resource))
		return 0
	}

	installed := 0
	for _, e := range entries {
		if t.installer.Install(target, resource, e.method, e.wrapper) {
			installed++
		}
	}
	return installed
}

// Methods returns the registered method names for resource, sorted.
func (t *Table) Methods(resource string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries[resource]))
	for _, e := range t.entries[resource] {
		names = append(names, e.method)
	}
	sort.Strings(names)
	return names
}

// Resources returns the registered resource names, sorted.
func (t *Table) Resources() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	names := make([]string, 0, len(t.entries))
	for r := range t.entries {
		names = append(names, r)
	}
	sort.Strings(names)
	return names
}
