package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/wharfd/wharf/image"
	"github.com/wharfd/wharf/internal/apierr"
	"github.com/wharfd/wharf/internal/idgen"
	"github.com/wharfd/wharf/internal/telemetry"
	"github.com/wharfd/wharf/layer"
)

// Engine is the container lifecycle state machine (spec §4.6): create,
// start, stop, remove, exec, commit. It owns the registry and draws rootfs
// content from the layer store and image catalog.
type Engine struct {
	Registry *Registry
	Layers   *layer.Store
	Images   *image.Catalog
	Reaper   *Reaper

	// StateRoot is the daemon state directory; per-container rootfs lives
	// under StateRoot/containers/<id> and log files at StateRoot/logs/<id>.log
	// (spec §6).
	StateRoot string
}

// NewEngine wires an Engine from its storage layers.
func NewEngine(registry *Registry, layers *layer.Store, images *image.Catalog, stateRoot string) *Engine {
	return &Engine{
		Registry:  registry,
		Layers:    layers,
		Images:    images,
		Reaper:    NewReaper(registry),
		StateRoot: stateRoot,
	}
}

// CreateOptions configures a new container (spec §4.6 create).
type CreateOptions struct {
	Name         string
	ImageRef     string // "name:tag" or bare name (defaults to latest)
	Command      []string
	WorkingDir   string
	User         string
	Env          []string
	PortBindings []string // "host:container" pairs (spec §3, §6 create body)
	Binds        []string // "host:container" path pairs
	Interactive  bool
	TTY          bool
	Detach       bool
	Limits       Limits
}

func (e *Engine) containerDir(id string) string {
	return filepath.Join(e.StateRoot, "containers", id)
}

// Create resolves the image, assembles the container's rootfs from its
// layer chain, and registers a Container in StateCreated.
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (*Container, error) {
	ctx, span := telemetry.StartSpan(ctx, "container.create")
	defer span.End()

	if opts.Name != "" && e.Registry.NameTaken(opts.Name) {
		return nil, apierr.Conflictf("container name %q already in use", opts.Name)
	}

	name, tag := splitImageRef(opts.ImageRef)
	img, err := e.Images.Lookup(name, tag)
	if err != nil {
		return nil, err
	}

	id := idgen.Name()
	dir := e.containerDir(id)
	rootfs := filepath.Join(dir, "rootfs")
	if err := os.MkdirAll(rootfs, 0o755); err != nil {
		return nil, apierr.Wrap(apierr.IO, "create container rootfs dir", err)
	}
	if err := e.Layers.ExtractChain(img.LayerIDs, rootfs); err != nil {
		return nil, err
	}

	cmd := resolveCommand(opts.Command, img.Config)
	workdir := opts.WorkingDir
	if workdir == "" {
		workdir = img.Config.WorkingDir
	}
	user := opts.User
	if user == "" {
		user = img.Config.User
	}

	logPath := filepath.Join(e.StateRoot, "logs", id+".log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		return nil, apierr.Wrap(apierr.IO, "create container log dir", err)
	}

	c := &Container{
		ID:           id,
		Name:         opts.Name,
		Image:        img.RepoTag(),
		ImageID:      img.ID,
		Command:      cmd,
		WorkingDir:   workdir,
		User:         user,
		Env:          append(append([]string{}, img.Config.Env...), opts.Env...),
		State:        StateCreated,
		Created:      time.Now().UTC(),
		RootfsPath:   rootfs,
		LogPath:      logPath,
		PortBindings: opts.PortBindings,
		Binds:        opts.Binds,
		Interactive:  opts.Interactive,
		TTY:          opts.TTY,
		Detach:       opts.Detach,
		Limits:       opts.Limits,
	}
	if c.Name == "" {
		c.Name = id
	}

	if err := e.Registry.Put(c); err != nil {
		return nil, err
	}
	slog.Info("container.Engine.Create", "id", id, "name", c.Name, "image", c.Image)
	return c, nil
}

// resolveCommand picks the container's argv by precedence: an explicit
// override, then the image's CMD, then its ENTRYPOINT, then an engine
// default shell (spec §4.6: "explicit override > image CMD > image
// entrypoint > engine default").
func resolveCommand(explicit []string, cfg v1.Config) []string {
	if len(explicit) > 0 {
		return explicit
	}
	if len(cfg.Cmd) > 0 {
		return cfg.Cmd
	}
	if len(cfg.Entrypoint) > 0 {
		return cfg.Entrypoint
	}
	return []string{"/bin/sh"}
}

// Start launches the container's pid 1 process in fresh namespaces, applies
// any cgroup limits, and transitions it to StateRunning.
func (e *Engine) Start(ctx context.Context, idOrName string) (*Container, error) {
	c, err := e.Registry.Find(idOrName)
	if err != nil {
		return nil, err
	}
	if c.State == StateRunning {
		return nil, apierr.Conflictf("container %q is already running", c.ID)
	}

	logFile, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, apierr.Wrap(apierr.IO, "open container log", err)
	}
	// In the non-TTY case the child inherits a dup'd fd via exec, so the
	// parent's handle can close as soon as Start returns. The TTY case reads
	// from the pty asynchronously in the parent, so that goroutine owns the
	// close instead (see below).
	closeLogOnReturn := true
	defer func() {
		if closeLogOnReturn {
			logFile.Close()
		}
	}()

	var cgroupPath string
	if !c.Limits.Empty() {
		if err := EnableSubtreeControllers(); err != nil {
			return nil, err
		}
		cgroupPath, err = SetupCgroup(c.ID, c.Limits)
		if err != nil {
			return nil, err
		}
	}

	var cmd *exec.Cmd
	if c.TTY {
		var ptmx *os.File
		cmd, ptmx, err = SpawnTTY(c.ID, c.RootfsPath, c.ID, c.WorkingDir, c.Command, c.Env)
		if err != nil {
			return nil, err
		}
		closeLogOnReturn = false
		go func() {
			io.Copy(logFile, ptmx)
			logFile.Close()
			ptmx.Close()
		}()
	} else {
		cmd, err = Spawn(c.ID, c.RootfsPath, c.ID, c.WorkingDir, c.Command, c.Env, nil, logFile, logFile)
		if err != nil {
			return nil, err
		}
	}

	if cgroupPath != "" {
		if err := JoinCgroup(cgroupPath, cmd.Process.Pid); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	running, err := e.Registry.mutate(c.ID, func(c *Container) error {
		c.State = StateRunning
		c.PID = cmd.Process.Pid
		c.Started = &now
		c.CgroupPath = cgroupPath
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.Detach {
		e.Reaper.Track(cmd.Process.Pid, c.ID)
		return running, nil
	}

	// Foreground start: block until pid 1 exits, then record its exit code
	// and finished timestamp before returning (spec §4.6 start step 4).
	exitCode := 0
	if waitErr := cmd.Wait(); waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return nil, apierr.Wrap(apierr.Syscall, "wait for container process", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}
	finished := time.Now().UTC()
	if cgroupPath != "" {
		if err := RemoveCgroup(c.ID); err != nil {
			slog.Warn("container.Engine.Start: cgroup cleanup failed", "id", c.ID, "error", err)
		}
	}
	return e.Registry.mutate(c.ID, func(c *Container) error {
		c.State = StateExited
		c.ExitCode = exitCode
		c.Finished = &finished
		c.PID = 0
		return nil
	})
}

// Stop sends a termination signal to the container's init process and waits
// up to timeout for it to exit before escalating, per spec §4.6.
func (e *Engine) Stop(ctx context.Context, idOrName string, timeout time.Duration) (*Container, error) {
	c, err := e.Registry.Find(idOrName)
	if err != nil {
		return nil, err
	}
	if c.State != StateRunning {
		slog.Warn("container.Engine.Stop: already stopped, no-op", "id", c.ID, "state", c.State)
		return c, nil
	}

	proc, err := os.FindProcess(c.PID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Syscall, "find container process", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return nil, apierr.Wrap(apierr.Syscall, "signal container for graceful stop", err)
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			if err := proc.Kill(); err != nil {
				slog.Warn("container.Engine.Stop: kill after timeout failed", "id", c.ID, "error", err)
			}
		case <-ticker.C:
			cur, err := e.Registry.Get(c.ID)
			if err == nil && cur.State != StateRunning {
				return cur, nil
			}
		case <-ctx.Done():
			return nil, apierr.Wrap(apierr.Internal, "stop cancelled", ctx.Err())
		}
	}
}

// Remove deletes a container's metadata and on-disk rootfs. It refuses to
// remove a running container (spec §4.6: remove requires a terminal state).
func (e *Engine) Remove(idOrName string) error {
	c, err := e.Registry.Find(idOrName)
	if err != nil {
		return err
	}
	if c.State == StateRunning {
		return apierr.Conflictf("container %q must be stopped before removal", c.ID)
	}
	if err := os.RemoveAll(e.containerDir(c.ID)); err != nil {
		return apierr.Wrap(apierr.IO, "remove container state dir", err)
	}
	return e.Registry.Remove(c.ID)
}

// Exec joins the namespaces of a running container and runs an additional
// command inside it (SPEC_FULL.md §C).
func (e *Engine) Exec(ctx context.Context, idOrName string, cmdArgs []string, stdin *os.File, stdout, stderr *os.File) (*os.Process, error) {
	c, err := e.Registry.Find(idOrName)
	if err != nil {
		return nil, err
	}
	if c.State != StateRunning {
		return nil, apierr.Conflictf("container %q is not running", c.ID)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, apierr.Wrap(apierr.Syscall, "resolve wharf executable path", err)
	}
	args := append([]string{ExecReexecArg, fmt.Sprintf("%d", c.PID)}, cmdArgs...)
	attr := &os.ProcAttr{
		Files: []*os.File{stdin, stdout, stderr},
	}
	proc, err := os.StartProcess(self, append([]string{self}, args...), attr)
	if err != nil {
		return nil, apierr.Wrap(apierr.Syscall, "exec into container", err)
	}
	return proc, nil
}

// ExecReexecArg marks a re-exec whose job is to JoinNamespaces(pid) and
// then exec the trailing argv, for `wharf exec` (see cmd/wharf/main.go).
const ExecReexecArg = "__wharf_namespace_exec__"

// Commit freezes the container's current rootfs into a new layer on top of
// its image's existing chain, and publishes it under a new name/tag
// (SPEC_FULL.md §C).
func (e *Engine) Commit(idOrName, name, tag, message string) (*image.Record, error) {
	c, err := e.Registry.Find(idOrName)
	if err != nil {
		return nil, err
	}
	srcImg, err := e.Images.LookupByID(c.ImageID)
	if err != nil {
		return nil, err
	}

	parent := ""
	if n := len(srcImg.LayerIDs); n > 0 {
		parent = srcImg.LayerIDs[n-1]
	}
	layerID, err := e.Layers.Create(parent, fmt.Sprintf("commit %s", message), c.RootfsPath)
	if err != nil {
		return nil, err
	}

	chain := append(append([]string{}, srcImg.LayerIDs...), layerID)
	rec := *srcImg
	rec.ID = idgen.Name()
	rec.Author = message
	rec.Created = time.Now().UTC()
	return e.Images.Create(name, tag, chain, rec)
}

func splitImageRef(ref string) (name, tag string) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == ':' {
			return ref[:i], ref[i+1:]
		}
		if ref[i] == '/' {
			break
		}
	}
	return ref, ""
}
