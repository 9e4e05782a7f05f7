package image

import (
	"testing"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/wharfd/wharf/internal/apierr"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestCreateLookupDefaultsTag(t *testing.T) {
	c := newTestCatalog(t)

	rec, err := c.Create("demo", "", []string{"layer1"}, Record{ID: "img1", Config: v1.Config{Cmd: []string{"/bin/true"}}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Tag != "latest" {
		t.Errorf("Tag = %q, want latest", rec.Tag)
	}

	got, err := c.Lookup("demo", "")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.ID != "img1" {
		t.Errorf("ID = %q, want img1", got.ID)
	}
}

func TestLookupMissingIsNotFound(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Lookup("nope", "")
	if apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRemoveThenLookupNotFound(t *testing.T) {
	c := newTestCatalog(t)
	if _, err := c.Create("demo", "latest", nil, Record{ID: "img1"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove("demo"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := c.Lookup("demo", ""); apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NotFound after remove, got %v", err)
	}
}

func TestCreateOverwritesSameNameTag(t *testing.T) {
	c := newTestCatalog(t)
	if _, err := c.Create("demo", "latest", []string{"a"}, Record{ID: "img1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Create("demo", "latest", []string{"b"}, Record{ID: "img2"}); err != nil {
		t.Fatal(err)
	}
	got, err := c.Lookup("demo", "latest")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "img2" {
		t.Errorf("ID = %q, want img2 (overwritten)", got.ID)
	}
	if len(c.List()) != 1 {
		t.Errorf("List() = %d entries, want 1", len(c.List()))
	}
}

func TestTagClonesRecordUnderNewName(t *testing.T) {
	c := newTestCatalog(t)
	if _, err := c.Create("demo", "latest", []string{"a", "b"}, Record{ID: "img1"}); err != nil {
		t.Fatal(err)
	}
	clone, err := c.Tag("img1", "demo2", "v2")
	if err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if clone.RepoTag() != "demo2:v2" {
		t.Errorf("RepoTag = %q, want demo2:v2", clone.RepoTag())
	}
	if len(clone.LayerIDs) != 2 {
		t.Errorf("LayerIDs = %v, want len 2", clone.LayerIDs)
	}
}

func TestRehydrateFromDisk(t *testing.T) {
	dir := t.TempDir()
	c1, err := Open(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c1.Create("demo", "latest", []string{"a"}, Record{ID: "img1"}); err != nil {
		t.Fatal(err)
	}

	c2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := c2.Lookup("demo", "latest")
	if err != nil {
		t.Fatalf("Lookup after reopen: %v", err)
	}
	if got.ID != "img1" {
		t.Errorf("ID = %q, want img1", got.ID)
	}
}
