package container

import (
	"path/filepath"
	"testing"

	"github.com/wharfd/wharf/internal/apierr"
)

func TestRegistryPutGetFind(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := &Container{ID: "abc123", Name: "web", State: StateCreated}
	if err := r.Put(c); err != nil {
		t.Fatal(err)
	}

	got, err := r.Get("abc123")
	if err != nil || got.Name != "web" {
		t.Fatalf("Get = %+v, err %v", got, err)
	}

	byName, err := r.Find("web")
	if err != nil || byName.ID != "abc123" {
		t.Fatalf("Find by name = %+v, err %v", byName, err)
	}

	if !r.NameTaken("web") {
		t.Error("expected NameTaken(web) = true")
	}
	if r.NameTaken("other") {
		t.Error("expected NameTaken(other) = false")
	}
}

func TestRegistryRemoveThenGetNotFound(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := &Container{ID: "id1", Name: "n1"}
	if err := r.Put(c); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("id1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("id1"); apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRegistryRehydrate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "meta")
	r1, err := OpenRegistry(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r1.Put(&Container{ID: "x1", Name: "one"}); err != nil {
		t.Fatal(err)
	}

	r2, err := OpenRegistry(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := r2.Get("x1"); err != nil {
		t.Fatalf("expected rehydrated record, got %v", err)
	}
}

func TestRegistryMutateIsAtomic(t *testing.T) {
	r, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Put(&Container{ID: "c1", State: StateCreated}); err != nil {
		t.Fatal(err)
	}
	updated, err := r.mutate("c1", func(c *Container) error {
		c.State = StateRunning
		c.PID = 42
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.State != StateRunning || updated.PID != 42 {
		t.Errorf("mutate result = %+v", updated)
	}
	reread, err := r.Get("c1")
	if err != nil || reread.State != StateRunning {
		t.Errorf("Get after mutate = %+v, err %v", reread, err)
	}
}
