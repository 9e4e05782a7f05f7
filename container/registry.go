package container

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/wharfd/wharf/internal/apierr"
)

// Registry persists one JSON file per container under
// <state_root>/container-metadata (spec §6), guarded by a single
// registry-wide lock (spec §5: container lifecycle transitions must be
// serialized, unlike the layer store's and image catalog's read-biased
// locks — starts/stops race on the same process table).
type Registry struct {
	dir string

	mu         sync.RWMutex
	containers map[string]*Container
}

// OpenRegistry rehydrates the registry from dir, never treating the
// in-memory map as authoritative.
func OpenRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, apierr.Wrap(apierr.IO, "create container metadata dir", err)
	}
	r := &Registry{dir: dir, containers: map[string]*Container{}}
	if err := r.rehydrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) rehydrate() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return apierr.Wrap(apierr.IO, "read container metadata dir", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			slog.Warn("container.Registry.rehydrate: unreadable entry", "file", e.Name(), "error", err)
			continue
		}
		var c Container
		if err := json.Unmarshal(data, &c); err != nil {
			slog.Warn("container.Registry.rehydrate: malformed entry, skipping", "file", e.Name(), "error", err)
			continue
		}
		r.containers[c.ID] = &c
	}
	return nil
}

func (r *Registry) path(id string) string { return filepath.Join(r.dir, id+".json") }

// Put inserts or overwrites the record for c.ID, persisting atomically via a
// temp-file-then-rename, matching image/catalog.go's write pattern.
func (r *Registry) Put(c *Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(c)
}

func (r *Registry) putLocked(c *Container) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.Internal, "marshal container record", err)
	}
	tmp := r.path(c.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return apierr.Wrap(apierr.IO, "write container record", err)
	}
	if err := os.Rename(tmp, r.path(c.ID)); err != nil {
		return apierr.Wrap(apierr.IO, "commit container record", err)
	}
	r.containers[c.ID] = c
	return nil
}

// Get returns the record for id.
func (r *Registry) Get(id string) (*Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[id]
	if !ok {
		return nil, apierr.NotFoundf("container %q not found", id)
	}
	return c, nil
}

// Find resolves a container by id or name.
func (r *Registry) Find(idOrName string) (*Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.containers[idOrName]; ok {
		return c, nil
	}
	for _, c := range r.containers {
		if c.Name == idOrName {
			return c, nil
		}
	}
	return nil, apierr.NotFoundf("container %q not found", idOrName)
}

// NameTaken reports whether name is already in use by another container.
func (r *Registry) NameTaken(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.containers {
		if c.Name == name {
			return true
		}
	}
	return false
}

// List returns every registered container.
func (r *Registry) List() []*Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Container, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c)
	}
	return out
}

// Remove deletes a container's metadata file. The caller must already have
// verified the container is stopped (spec §4.6: remove requires a terminal
// state).
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[id]; !ok {
		return apierr.NotFoundf("container %q not found", id)
	}
	if err := os.Remove(r.path(id)); err != nil && !os.IsNotExist(err) {
		return apierr.Wrap(apierr.IO, "remove container record", err)
	}
	delete(r.containers, id)
	return nil
}

// mutate looks up id, applies fn, and persists the result under the registry
// lock, so state transitions never race each other.
func (r *Registry) mutate(id string, fn func(*Container) error) (*Container, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.containers[id]
	if !ok {
		return nil, apierr.NotFoundf("container %q not found", id)
	}
	if err := fn(c); err != nil {
		return nil, err
	}
	if err := r.putLocked(c); err != nil {
		return nil, err
	}
	return c, nil
}
