package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wharfd/wharf/image"
	"github.com/wharfd/wharf/layer"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	layers, err := layer.Open(filepath.Join(t.TempDir(), "layers"), nil)
	if err != nil {
		t.Fatalf("layer.Open: %v", err)
	}
	images, err := image.Open(filepath.Join(t.TempDir(), "images"), nil)
	if err != nil {
		t.Fatalf("image.Open: %v", err)
	}
	return New(layers, images)
}

func TestBuildScratchOnlyProducesOneLayer(t *testing.T) {
	e := newTestExecutor(t)

	res, err := e.Build(context.Background(), Options{
		Recipe: strings.NewReader("FROM scratch\n"),
		Name:   "scratch-demo",
		Tag:    "v1",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Image.LayerIDs) != 1 {
		t.Fatalf("LayerIDs = %v, want exactly 1", res.Image.LayerIDs)
	}
	if len(res.Image.Config.Cmd) != 0 || len(res.Image.Config.Entrypoint) != 0 {
		t.Errorf("expected empty config for scratch-only build, got %+v", res.Image.Config)
	}
}

func TestBuildUnknownBaseImageIsNotFound(t *testing.T) {
	e := newTestExecutor(t)
	_, err := e.Build(context.Background(), Options{
		Recipe: strings.NewReader("FROM nope:latest\n"),
		Name:   "demo",
	})
	if err == nil {
		t.Fatal("expected error for unresolvable base image")
	}
}

func TestBuildCopyAndConfig(t *testing.T) {
	e := newTestExecutor(t)

	buildCtx := t.TempDir()
	if err := os.WriteFile(filepath.Join(buildCtx, "app.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	recipeText := `FROM scratch
COPY app.sh /app.sh
ENV PATH=/usr/bin
WORKDIR /
ENTRYPOINT ["/app.sh"]
`
	res, err := e.Build(context.Background(), Options{
		Recipe:     strings.NewReader(recipeText),
		ContextDir: buildCtx,
		Name:       "app",
		Tag:        "latest",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// FROM(1) + COPY(1) + ENV(1) + WORKDIR(1) + ENTRYPOINT(1) = 5 layers.
	if len(res.Image.LayerIDs) != 5 {
		t.Errorf("LayerIDs = %v, want 5", res.Image.LayerIDs)
	}
	if len(res.Image.Config.Entrypoint) != 1 || res.Image.Config.Entrypoint[0] != "/app.sh" {
		t.Errorf("Entrypoint = %v", res.Image.Config.Entrypoint)
	}
	if res.Image.Config.WorkingDir != "/" {
		t.Errorf("WorkingDir = %q", res.Image.Config.WorkingDir)
	}

	// The COPY's layer must actually contain the copied file.
	topLayers := res.Image.LayerIDs
	found := false
	for _, id := range topLayers {
		rec, err := e.Layers.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(rec.Instruction, "COPY") {
			found = true
			extracted := t.TempDir()
			if err := e.Layers.Extract(id, extracted); err != nil {
				t.Fatal(err)
			}
			if _, err := os.Stat(filepath.Join(extracted, "app.sh")); err != nil {
				t.Errorf("COPY layer does not contain app.sh: %v", err)
			}
		}
	}
	if !found {
		t.Error("no layer recorded the COPY instruction")
	}
}

func TestBuildWorkdirCreatesDirectory(t *testing.T) {
	e := newTestExecutor(t)

	recipeText := "FROM scratch\nWORKDIR /data/app\nVOLUME /data/vol\n"
	res, err := e.Build(context.Background(), Options{
		Recipe: strings.NewReader(recipeText),
		Name:   "withdirs",
		Tag:    "latest",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Image.Config.WorkingDir != "/data/app" {
		t.Errorf("WorkingDir = %q", res.Image.Config.WorkingDir)
	}

	extracted := t.TempDir()
	if err := e.Layers.ExtractChain(res.Image.LayerIDs, extracted); err != nil {
		t.Fatalf("ExtractChain: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(extracted, "data", "app")); err != nil || !fi.IsDir() {
		t.Errorf("WORKDIR directory not present in image: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(extracted, "data", "vol")); err != nil || !fi.IsDir() {
		t.Errorf("VOLUME directory not present in image: %v", err)
	}
}
