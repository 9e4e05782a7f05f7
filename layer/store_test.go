package layer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wharfd/wharf/internal/apierr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestCreateAndExtract(t *testing.T) {
	s := newTestStore(t)

	srcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(srcDir, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := s.Create("", "FROM scratch", srcDir)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty layer id")
	}

	target := t.TempDir()
	if err := s.Extract(id, target); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(target, "hello.txt"))
	if err != nil {
		t.Fatalf("reading extracted file: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("got %q, want %q", data, "hi")
	}
}

func TestCreateMissingParent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create("does-not-exist", "RUN foo", "")
	if apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestChainAndAcyclicity(t *testing.T) {
	s := newTestStore(t)

	base, err := s.Create("", "FROM scratch", "")
	if err != nil {
		t.Fatal(err)
	}
	mid, err := s.Create(base, "RUN a", "")
	if err != nil {
		t.Fatal(err)
	}
	top, err := s.Create(mid, "RUN b", "")
	if err != nil {
		t.Fatal(err)
	}

	chain, err := s.Chain(top)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	want := []string{base, mid, top}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Errorf("chain[%d] = %q, want %q", i, chain[i], want[i])
		}
	}
}

func TestRemoveThenGetIsNotFound(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Create("", "FROM scratch", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(id); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := s.Get(id); apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NotFound after remove, got %v", err)
	}
}

func TestUniqueIDsAcrossCreates(t *testing.T) {
	s := newTestStore(t)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := s.Create("", "RUN x", "")
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate layer id %q", id)
		}
		seen[id] = true
	}
}

func TestRehydrateFromDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	id, err := s1.Create("", "FROM scratch", "")
	if err != nil {
		t.Fatal(err)
	}

	s2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s2.Exists(id) {
		t.Fatalf("expected rehydrated store to know about %q", id)
	}
}
