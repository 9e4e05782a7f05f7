package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/wharfd/wharf/image"
	"github.com/wharfd/wharf/internal/apierr"
	"github.com/wharfd/wharf/layer"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()

	layers, err := layer.Open(filepath.Join(root, "layers"), nil)
	if err != nil {
		t.Fatal(err)
	}
	images, err := image.Open(filepath.Join(root, "images"), nil)
	if err != nil {
		t.Fatal(err)
	}
	registry, err := OpenRegistry(filepath.Join(root, "container-metadata"))
	if err != nil {
		t.Fatal(err)
	}

	layerID, err := layers.Create("", "FROM scratch", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := images.Create("demo", "latest", []string{layerID}, image.Record{
		ID:     "img1",
		Config: v1.Config{Cmd: []string{"/bin/sh", "-c", "echo hi"}},
	}); err != nil {
		t.Fatal(err)
	}

	return NewEngine(registry, layers, images, filepath.Join(root, "state"))
}

func TestEngineCreateResolvesCommandFromImage(t *testing.T) {
	e := newTestEngine(t)

	c, err := e.Create(context.Background(), CreateOptions{Name: "web", ImageRef: "demo:latest"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.State != StateCreated {
		t.Errorf("State = %q, want created", c.State)
	}
	if len(c.Command) != 3 || c.Command[2] != "echo hi" {
		t.Errorf("Command = %v, want image CMD", c.Command)
	}
}

func TestEngineCreateDuplicateNameConflict(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Create(context.Background(), CreateOptions{Name: "dup", ImageRef: "demo"}); err != nil {
		t.Fatal(err)
	}
	_, err := e.Create(context.Background(), CreateOptions{Name: "dup", ImageRef: "demo"})
	if apierr.KindOf(err) != apierr.Conflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestEngineCreateMissingImageNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Create(context.Background(), CreateOptions{ImageRef: "nope"})
	if apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestEngineRemoveRunningConflict(t *testing.T) {
	e := newTestEngine(t)
	c, err := e.Create(context.Background(), CreateOptions{Name: "running-one", ImageRef: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Registry.mutate(c.ID, func(c *Container) error {
		c.State = StateRunning
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if err := e.Remove(c.ID); apierr.KindOf(err) != apierr.Conflict {
		t.Fatalf("expected Conflict removing running container, got %v", err)
	}
}

func TestEngineStopAlreadyExitedIsNoOp(t *testing.T) {
	e := newTestEngine(t)
	c, err := e.Create(context.Background(), CreateOptions{Name: "already-stopped", ImageRef: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Registry.mutate(c.ID, func(c *Container) error {
		c.State = StateExited
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	// c.State is StateExited, not StateRunning: Stop must succeed as a no-op
	// rather than returning a Conflict (spec §4.6, §8 boundary behaviors).
	got, err := e.Stop(context.Background(), c.ID, time.Second)
	if err != nil {
		t.Fatalf("Stop on non-running container returned error: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("Stop returned container %q, want %q", got.ID, c.ID)
	}
}

// TestResolveCommandPrecedence asserts spec §4.6's exact ordering:
// explicit override > image CMD > image entrypoint > engine default.
func TestResolveCommandPrecedence(t *testing.T) {
	cfg := v1.Config{Entrypoint: []string{"/ep"}, Cmd: []string{"--default"}}

	if got := resolveCommand([]string{"/explicit"}, cfg); len(got) != 1 || got[0] != "/explicit" {
		t.Errorf("explicit override not honored: %v", got)
	}
	if got := resolveCommand(nil, cfg); len(got) != 1 || got[0] != "--default" {
		t.Errorf("image CMD should win over ENTRYPOINT when both are set: %v", got)
	}
	if got := resolveCommand(nil, v1.Config{Entrypoint: []string{"/only-ep"}}); len(got) != 1 || got[0] != "/only-ep" {
		t.Errorf("bare entrypoint not used when CMD is empty: %v", got)
	}
	if got := resolveCommand(nil, v1.Config{}); len(got) != 1 || got[0] != "/bin/sh" {
		t.Errorf("engine default not used: %v", got)
	}
}
