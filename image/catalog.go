package image

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/wharfd/wharf/internal/apierr"
)

// Catalog maps (name, tag) to image records, one JSON file per entry under
// <state_root>/metadata (spec §4.2, §6). A single read-biased lock guards
// it, per §5: many concurrent lookups, rare writes.
type Catalog struct {
	dir   string
	index *Index // optional derived SQLite index; nil when disabled

	mu      sync.RWMutex
	records map[string]*Record // keyed by "name:tag"
}

// Open rehydrates the catalog from the JSON files in dir.
func Open(dir string, index *Index) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, apierr.Wrap(apierr.IO, "create image catalog dir", err)
	}
	c := &Catalog{dir: dir, index: index, records: map[string]*Record{}}
	if err := c.rehydrate(); err != nil {
		return nil, err
	}
	if index != nil {
		if err := index.Rebuild(c.list()); err != nil {
			slog.Warn("image.Catalog.Open: index rebuild failed, continuing without fast list", "error", err)
		}
	}
	return c, nil
}

func (c *Catalog) rehydrate() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return apierr.Wrap(apierr.IO, "read image catalog dir", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			slog.Warn("image.Catalog.rehydrate: unreadable entry", "file", e.Name(), "error", err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Warn("image.Catalog.rehydrate: malformed entry, skipping", "file", e.Name(), "error", err)
			continue
		}
		c.records[key(rec.Name, rec.Tag)] = &rec
	}
	return nil
}

func (c *Catalog) path(name, tag string) string {
	return filepath.Join(c.dir, key(name, tag)+".json")
}

// Create writes a new catalog entry, overwriting any existing (name, tag).
func (c *Catalog) Create(name, tag string, layerIDs []string, cfg Record) (*Record, error) {
	if name == "" {
		return nil, apierr.InvalidArgumentf("image name must not be empty")
	}
	tag = NormalizeTag(tag)

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := cfg
	rec.Name = name
	rec.Tag = tag
	rec.LayerIDs = layerIDs

	if err := c.writeLocked(&rec); err != nil {
		return nil, err
	}
	c.records[key(name, tag)] = &rec
	if c.index != nil {
		if err := c.index.Upsert(&rec); err != nil {
			slog.Warn("image.Catalog.Create: index upsert failed", "error", err)
		}
	}
	slog.Info("image.Catalog.Create", "name", name, "tag", tag, "id", rec.ID)
	return &rec, nil
}

func (c *Catalog) writeLocked(rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.Internal, "marshal image record", err)
	}
	tmp := c.path(rec.Name, rec.Tag) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return apierr.Wrap(apierr.IO, "write image record", err)
	}
	if err := os.Rename(tmp, c.path(rec.Name, rec.Tag)); err != nil {
		return apierr.Wrap(apierr.IO, "commit image record", err)
	}
	return nil
}

// Lookup returns the record for (name, tag); tag defaults to "latest".
func (c *Catalog) Lookup(name, tag string) (*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.records[key(name, tag)]
	if !ok {
		return nil, apierr.NotFoundf("image %q not found", key(name, tag))
	}
	return rec, nil
}

// LookupByID scans for a record with the given image id. Opaque ids aren't
// indexed by key, so this is a linear scan — acceptable given the catalog's
// read-biased, low-write-volume profile (spec §5).
func (c *Catalog) LookupByID(id string) (*Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rec := range c.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, apierr.NotFoundf("image id %q not found", id)
}

func (c *Catalog) list() []*Record {
	out := make([]*Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec)
	}
	return out
}

// List enumerates all catalog records.
func (c *Catalog) List() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list()
}

// Remove deletes the metadata file for (name, tag). Layers are not
// garbage-collected (spec §4.2) — that's left to a separate sweep.
func (c *Catalog) Remove(nameOrID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k, rec := c.findLocked(nameOrID)
	if rec == nil {
		return apierr.NotFoundf("image %q not found", nameOrID)
	}
	if err := os.Remove(c.path(rec.Name, rec.Tag)); err != nil && !os.IsNotExist(err) {
		return apierr.Wrap(apierr.IO, "remove image record", err)
	}
	delete(c.records, k)
	if c.index != nil {
		if err := c.index.Delete(rec.ID); err != nil {
			slog.Warn("image.Catalog.Remove: index delete failed", "error", err)
		}
	}
	return nil
}

func (c *Catalog) findLocked(nameOrID string) (string, *Record) {
	if rec, ok := c.records[key(nameOrID, "")]; ok {
		return key(nameOrID, ""), rec
	}
	for k, rec := range c.records {
		if rec.ID == nameOrID || rec.Name == nameOrID || fmt.Sprintf("%s:%s", rec.Name, rec.Tag) == nameOrID {
			return k, rec
		}
	}
	return "", nil
}

// Tag clones the metadata for sourceID under a new (name, tag) pair.
func (c *Catalog) Tag(sourceID, name, tag string) (*Record, error) {
	src, err := c.LookupByID(sourceID)
	if err != nil {
		// sourceID may itself be a "name:tag" or bare name.
		srcName, srcTag := sourceID, ""
		if i := strings.LastIndex(sourceID, ":"); i > strings.LastIndex(sourceID, "/") {
			srcName, srcTag = sourceID[:i], sourceID[i+1:]
		}
		src, err = c.Lookup(srcName, srcTag)
		if err != nil {
			return nil, err
		}
	}
	clone := *src
	return c.Create(name, tag, append([]string(nil), src.LayerIDs...), clone)
}
