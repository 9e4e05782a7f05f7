package layer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wharfd/wharf/internal/apierr"
)

const sidecarName = ".wharf-layer.json"

// FileOps abstracts the directory create/copy/remove operations the store
// needs, the same seam the teacher's file_ops.go cut for Boxer's workspace
// provisioner. Production code and the tests both use osFileOps; sidecar
// reads and writes and the startup directory scan call os directly.
type FileOps interface {
	MkdirAll(path string, perm os.FileMode) error
	RemoveAll(path string) error
	CopyTree(src, dst string) (int64, error)
}

type osFileOps struct{}

// NewOSFileOps returns the real, disk-backed FileOps implementation.
func NewOSFileOps() FileOps { return osFileOps{} }

func (osFileOps) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (osFileOps) RemoveAll(path string) error                  { return os.RemoveAll(path) }

// CopyTree recursively copies src into dst, overlaying any existing files,
// and returns the total number of bytes copied. Symlinks are recreated as
// symlinks rather than followed.
func (osFileOps) CopyTree(src, dst string) (int64, error) {
	var total int64
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(link, target)
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			n, err := copyFile(path, target, info.Mode())
			total += n
			return err
		}
	})
	return total, err
}

func copyFile(src, dst string, mode os.FileMode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, in)
}

// Store persists layers under <root>/<layer-id>/ plus a JSON sidecar record,
// per the state layout in spec §6.
type Store struct {
	root string
	fops FileOps

	mu      sync.RWMutex
	records map[string]*Record
}

// Open initializes (or reopens) a layer store rooted at dir, rehydrating its
// in-memory record cache from the sidecar files on disk — in-memory caches
// are rebuilt from disk at startup, never treated as the source of truth.
func Open(dir string, fops FileOps) (*Store, error) {
	if fops == nil {
		fops = NewOSFileOps()
	}
	if err := fops.MkdirAll(dir, 0o750); err != nil {
		return nil, apierr.Wrap(apierr.IO, "create layer store root", err)
	}
	s := &Store{root: dir, fops: fops, records: map[string]*Record{}}
	if err := s.rehydrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) rehydrate() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return apierr.Wrap(apierr.IO, "read layer store root", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := readSidecar(filepath.Join(s.root, e.Name()))
		if err != nil {
			slog.Warn("layer.Store.rehydrate: skipping unreadable layer", "id", e.Name(), "error", err)
			continue
		}
		s.records[rec.ID] = rec
	}
	return nil
}

func readSidecar(layerDir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(layerDir, sidecarName))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) layerDir(id string) string { return filepath.Join(s.root, id) }

// Create allocates a fresh layer whose contents are copied from sourceDir (if
// non-empty), chained to parent (if non-empty). Returns the new layer id.
func (s *Store) Create(parent, instruction, sourceDir string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if parent != "" {
		if _, ok := s.records[parent]; !ok {
			return "", apierr.NotFoundf("parent layer %q not found", parent)
		}
	}

	id := s.allocateID(parent, instruction)
	dir := s.layerDir(id)
	if err := s.fops.MkdirAll(dir, 0o750); err != nil {
		return "", apierr.Wrap(apierr.IO, "create layer directory", err)
	}

	var size int64
	if sourceDir != "" {
		n, err := s.fops.CopyTree(sourceDir, dir)
		if err != nil {
			s.fops.RemoveAll(dir)
			return "", apierr.Wrap(apierr.IO, "populate layer from source", err)
		}
		size = n
	}

	rec := &Record{
		ID:          id,
		Parent:      parent,
		Instruction: instruction,
		Created:     time.Now().UTC(),
		SizeBytes:   size,
	}
	if err := writeSidecar(dir, rec); err != nil {
		s.fops.RemoveAll(dir)
		return "", apierr.Wrap(apierr.IO, "write layer sidecar", err)
	}

	s.records[id] = rec
	slog.Info("layer.Store.Create", "id", id, "parent", parent, "size_bytes", size)
	return id, nil
}

func writeSidecar(dir string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sidecarName), data, 0o640)
}

// allocateID derives a unique id for a new layer. No files have been written
// yet at allocation time, so the id is not a content hash: it hashes the
// layer's lineage (parent + instruction) plus the current time in
// nanoseconds and the store's record count, so two builds of the same recipe
// get different ids. The same inputs do not reproduce the same id.
func (s *Store) allocateID(parent, instruction string) string {
	h := sha256.New()
	io.WriteString(h, parent)
	io.WriteString(h, instruction)
	fmt.Fprintf(h, "%d", time.Now().UnixNano())
	fmt.Fprintf(h, "%d", len(s.records))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Extract copies the layer's contents into targetDir, overlaying existing
// files — used bottom-up during rootfs assembly (spec §4.6 create).
func (s *Store) Extract(layerID, targetDir string) error {
	s.mu.RLock()
	_, ok := s.records[layerID]
	s.mu.RUnlock()
	if !ok {
		return apierr.NotFoundf("layer %q not found", layerID)
	}

	if err := s.fops.MkdirAll(targetDir, 0o755); err != nil {
		return apierr.Wrap(apierr.IO, "create extract target", err)
	}
	if _, err := s.fops.CopyTree(s.layerDir(layerID), targetDir); err != nil {
		return apierr.Wrap(apierr.IO, "extract layer", err)
	}
	return nil
}

// ExtractChain extracts each layer id in order (bottom to top) into targetDir.
func (s *Store) ExtractChain(layerIDs []string, targetDir string) error {
	for _, id := range layerIDs {
		if err := s.Extract(id, targetDir); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a layer's directory and sidecar. The caller is responsible
// for reference checks (spec §4.1) — Remove itself is unconditional.
func (s *Store) Remove(layerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[layerID]; !ok {
		return apierr.NotFoundf("layer %q not found", layerID)
	}
	if err := s.fops.RemoveAll(s.layerDir(layerID)); err != nil {
		return apierr.Wrap(apierr.IO, "remove layer", err)
	}
	delete(s.records, layerID)
	return nil
}

// Get returns the record for layerID.
func (s *Store) Get(layerID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[layerID]
	if !ok {
		return nil, apierr.NotFoundf("layer %q not found", layerID)
	}
	return rec, nil
}

// Chain returns the full parent chain for layerID, bottom (base) first,
// verifying acyclicity (spec §8: layer chain acyclicity) as it walks.
func (s *Store) Chain(layerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[string]bool{}
	var chain []string
	cur := layerID
	for cur != "" {
		if seen[cur] {
			return nil, apierr.Wrap(apierr.Internal, "layer chain cycle detected", fmt.Errorf("at %q", cur))
		}
		seen[cur] = true
		rec, ok := s.records[cur]
		if !ok {
			return nil, apierr.NotFoundf("layer %q not found", cur)
		}
		chain = append([]string{cur}, chain...)
		cur = rec.Parent
	}
	return chain, nil
}

// Exists reports whether a layer id is known to the store.
func (s *Store) Exists(layerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[layerID]
	return ok
}
