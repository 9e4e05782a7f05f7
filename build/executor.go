// Package build drives a parsed recipe against the layer store and image
// catalog, producing one layer per instruction and a final image record
// (spec §4.4).
package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/wharfd/wharf/image"
	"github.com/wharfd/wharf/internal/apierr"
	"github.com/wharfd/wharf/internal/idgen"
	"github.com/wharfd/wharf/internal/telemetry"
	"github.com/wharfd/wharf/layer"
	"github.com/wharfd/wharf/recipe"
)

// Options configures a single build invocation.
type Options struct {
	Recipe     io.Reader
	ContextDir string // resolves ADD/COPY sources
	Name       string
	Tag        string
}

// Result is what a successful build publishes.
type Result struct {
	Image    *image.Record
	Warnings []string
}

// Executor owns the layer store and image catalog a build writes into.
type Executor struct {
	Layers *layer.Store
	Images *image.Catalog
}

// New returns an Executor backed by the given stores.
func New(layers *layer.Store, images *image.Catalog) *Executor {
	return &Executor{Layers: layers, Images: images}
}

// Build parses opts.Recipe and replays it instruction by instruction,
// creating one layer per instruction so the layer chain mirrors the recipe
// (spec §4.4). On any instruction failure the build aborts and the image is
// never published; layers already created are left in the store rather than
// rolled back, matching the Design Notes' crash-safety posture.
func (e *Executor) Build(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "build.execute")
	defer span.End()

	rec, err := recipe.Parse(opts.Recipe)
	if err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp("", "wharf-build-")
	if err != nil {
		return nil, apierr.Wrap(apierr.IO, "create build staging dir", err)
	}
	defer os.RemoveAll(staging)

	st := &buildState{exec: e, staging: staging, ctxDir: opts.ContextDir}

	for _, inst := range rec.Instructions {
		if err := ctx.Err(); err != nil {
			return nil, apierr.Wrap(apierr.Internal, "build cancelled", err)
		}
		if err := st.apply(ctx, inst); err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", inst.Line, inst.Keyword, err)
		}
	}

	if st.top == "" {
		return nil, apierr.InvalidArgumentf("build produced no layers")
	}

	cfg := configFromRecipe(rec)
	imgRec := image.Record{
		ID:           idgen.Name(),
		Architecture: runtime.GOARCH,
		OS:           "linux",
		Created:      time.Now().UTC(),
		Config:       cfg,
	}

	published, err := e.Images.Create(opts.Name, opts.Tag, st.chain, imgRec)
	if err != nil {
		return nil, err
	}

	slog.Info("build.Executor.Build: published image", "name", opts.Name, "tag", opts.Tag, "id", published.ID, "layers", len(st.chain))
	return &Result{Image: published, Warnings: rec.Warnings}, nil
}

// buildState tracks the in-progress rootfs and layer chain across
// instructions.
type buildState struct {
	exec    *Executor
	staging string
	ctxDir  string

	top   string   // current top-of-chain layer id, "" before FROM
	chain []string // full layer chain in order
}

func (st *buildState) apply(ctx context.Context, inst recipe.Instruction) error {
	switch inst.Keyword {
	case recipe.From:
		return st.applyFrom(inst)
	case recipe.Run:
		return st.applyRun(ctx, inst)
	case recipe.Add, recipe.Copy:
		return st.applyCopy(inst)
	case recipe.Workdir, recipe.Volume:
		return st.applyMkdir(inst)
	default:
		// Config-only instruction: no filesystem mutation, but still gets an
		// empty layer so the chain mirrors the recipe 1:1 (spec §4.4).
		return st.commitLayer(inst, false)
	}
}

// applyMkdir creates WORKDIR/VOLUME's directory argument under staging so a
// later RUN or the final image actually finds it present (spec §4.4's
// dispatch table), then commits a layer snapshotting the change.
func (st *buildState) applyMkdir(inst recipe.Instruction) error {
	dir := filepath.Join(st.staging, inst.Dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apierr.Wrap(apierr.IO, fmt.Sprintf("%s %s", inst.Keyword, inst.Dest), err)
	}
	return st.commitLayer(inst, true)
}

func (st *buildState) applyFrom(inst recipe.Instruction) error {
	base := inst.Raw
	if base == "scratch" {
		return st.commitLayer(inst, false)
	}

	name, tag := splitRepoTag(base)
	baseImg, err := st.exec.Images.Lookup(name, tag)
	if err != nil {
		return apierr.NotFoundf("base image %q not found (remote pulls are out of scope)", base)
	}
	if err := st.exec.Layers.ExtractChain(baseImg.LayerIDs, st.staging); err != nil {
		return err
	}
	st.top = ""
	if n := len(baseImg.LayerIDs); n > 0 {
		st.top = baseImg.LayerIDs[n-1]
	}
	st.chain = append(st.chain, baseImg.LayerIDs...)
	return nil
}

func (st *buildState) applyCopy(inst recipe.Instruction) error {
	src := filepath.Join(st.ctxDir, inst.Src)
	dest := filepath.Join(st.staging, inst.Dest)
	if _, err := (layer.NewOSFileOps()).CopyTree(src, dest); err != nil {
		return apierr.Wrap(apierr.IO, fmt.Sprintf("%s %s -> %s", inst.Keyword, inst.Src, inst.Dest), err)
	}
	return st.commitLayer(inst, true)
}

func (st *buildState) applyRun(ctx context.Context, inst recipe.Instruction) error {
	if err := runInChroot(ctx, st.staging, inst.Raw); err != nil {
		return err
	}
	return st.commitLayer(inst, true)
}

// commitLayer snapshots the current staging directory (or nothing, for
// config-only instructions) into a new layer chained onto st.top.
func (st *buildState) commitLayer(inst recipe.Instruction, snapshot bool) error {
	source := ""
	if snapshot {
		source = st.staging
	}
	id, err := st.exec.Layers.Create(st.top, fmt.Sprintf("%s %s", inst.Keyword, inst.Raw), source)
	if err != nil {
		return err
	}
	st.top = id
	st.chain = append(st.chain, id)
	return nil
}

// configFromRecipe translates the recipe's aggregated keyword state into an
// OCI runtime config, reusing go-containerregistry's v1.Config rather than
// hand-rolling an equivalent (spec §4.4/§6).
func configFromRecipe(rec *recipe.Recipe) v1.Config {
	cfg := v1.Config{
		Entrypoint: rec.Entrypoint,
		Cmd:        rec.Cmd,
		Env:        rec.Env,
		WorkingDir: rec.WorkDir,
		User:       rec.User,
		Labels:     rec.Labels,
	}
	if len(rec.Exposed) > 0 {
		cfg.ExposedPorts = map[string]struct{}{}
		for _, p := range rec.Exposed {
			cfg.ExposedPorts[p] = struct{}{}
		}
	}
	if len(rec.Volumes) > 0 {
		cfg.Volumes = map[string]struct{}{}
		for _, v := range rec.Volumes {
			cfg.Volumes[v] = struct{}{}
		}
	}
	return cfg
}

func splitRepoTag(s string) (name, tag string) {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return s[:i], s[i+1:]
		}
		if s[i] == '/' {
			break
		}
	}
	return s, ""
}
