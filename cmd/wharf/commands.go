package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wharfd/wharf/api"
)

func rootCtx() context.Context { return context.Background() }

func copyOut(r io.Reader) (int64, error) { return io.Copy(os.Stdout, r) }

// BuildCmd implements `wharf build -t NAME [-f FILE] CTX`.
type BuildCmd struct {
	Tag        string `short:"t" required:"" help:"name:tag to publish the built image as"`
	Dockerfile string `short:"f" default:"Recipefile" help:"path to the recipe file"`
	Context    string `arg:"" default:"." help:"build context directory"`
}

func (b *BuildCmd) Run(cctx *Context) error {
	msg, err := cctx.Client.Build(rootCtx(), b.Tag, b.Dockerfile, b.Context)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// RunCmd implements `wharf run [-it] [-d] [--name N] IMG [CMD...]`.
type RunCmd struct {
	Interactive  bool     `short:"i" help:"keep stdin open"`
	TTY          bool     `short:"t" help:"allocate a pseudo-terminal"`
	Detach       bool     `short:"d" help:"run in the background"`
	Name         string   `help:"assign a name to the container"`
	Env          []string `short:"e" help:"set environment variables (key=value)"`
	Workdir      string   `short:"w" help:"override the working directory"`
	PortBindings []string `short:"p" name:"publish" help:"publish a port (host:container)"`
	Binds        []string `short:"v" name:"volume" help:"bind mount a volume (host:container)"`
	Memory       int64    `help:"memory limit in bytes"`
	CPUMillis    int64    `name:"cpus" help:"CPU quota in milli-cores"`
	PidsMax      int64    `help:"maximum number of pids"`
	Image        string   `arg:"" help:"image reference (name:tag)"`
	Cmd          []string `arg:"" optional:"" help:"command to run instead of the image default"`
}

func (r *RunCmd) Run(cctx *Context) error {
	ctx := rootCtx()
	id, err := cctx.Client.CreateContainer(ctx, createRequestFromRun(r))
	if err != nil {
		return err
	}
	if err := cctx.Client.StartContainer(ctx, id); err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func createRequestFromRun(r *RunCmd) api.CreateRequest {
	return api.CreateRequest{
		Image:        r.Image,
		Cmd:          r.Cmd,
		WorkingDir:   r.Workdir,
		Env:          r.Env,
		PortBindings: r.PortBindings,
		Binds:        r.Binds,
		AttachStdin:  r.Interactive,
		Detach:       r.Detach,
		Name:         r.Name,
		TTY:          r.TTY,
		MemoryBytes:  r.Memory,
		CPUMillis:    r.CPUMillis,
		PidsMax:      r.PidsMax,
	}
}

// ImagesCmd implements `wharf images`.
type ImagesCmd struct{}

func (i *ImagesCmd) Run(cctx *Context) error {
	images, err := cctx.Client.ListImages(rootCtx())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY:TAG\tIMAGE ID\tCREATED\tSIZE")
	for _, img := range images {
		repoTag := strings.Join(img.RepoTags, ",")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", repoTag, shortID(img.Id), time.Unix(img.Created, 0).Format(time.RFC3339), img.Size)
	}
	return tw.Flush()
}

// PsCmd implements `wharf ps` (aliased `containers`).
type PsCmd struct {
	All bool `short:"a" help:"include stopped containers (default already shows all known containers)"`
}

func (p *PsCmd) Run(cctx *Context) error {
	containers, err := cctx.Client.ListContainers(rootCtx())
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER ID\tIMAGE\tCOMMAND\tSTATUS\tNAMES")
	for _, c := range containers {
		fmt.Fprintf(tw, "%s\t%s\t%q\t%s\t%s\n", shortID(c.Id), c.Image, c.Command, c.Status, strings.Join(c.Names, ","))
	}
	return tw.Flush()
}

// StopCmd implements `wharf stop ID... [-a]`, fanning bulk stops out
// concurrently the way the teacher's stop_cmd.go does for `-a`.
type StopCmd struct {
	All bool     `short:"a" help:"stop every running container"`
	IDs []string `arg:"" optional:"" help:"container ids or names to stop"`
}

func (s *StopCmd) Run(cctx *Context) error {
	ctx := rootCtx()
	ids := s.IDs
	if s.All {
		containers, err := cctx.Client.ListContainers(ctx)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, c := range containers {
			if c.Status == "running" {
				ids = append(ids, c.Id)
			}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no container ids given (use -a to stop all running containers)")
	}

	var g errgroup.Group
	var mu sync.Mutex
	for _, id := range ids {
		g.Go(func() error {
			if err := cctx.Client.StopContainer(ctx, id); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			mu.Lock()
			fmt.Println(id)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// RmCmd implements `wharf rm ID`.
type RmCmd struct {
	ID string `arg:"" help:"container id or name"`
}

func (r *RmCmd) Run(cctx *Context) error {
	if err := cctx.Client.RemoveContainer(rootCtx(), r.ID); err != nil {
		return err
	}
	fmt.Println(r.ID)
	return nil
}

// RmiCmd implements `wharf rmi NAME`.
type RmiCmd struct {
	Name string `arg:"" help:"image name[:tag]"`
}

func (r *RmiCmd) Run(cctx *Context) error {
	msg, err := cctx.Client.RemoveImage(rootCtx(), r.Name)
	if err != nil {
		return err
	}
	fmt.Println(msg)
	return nil
}

// LogsCmd implements `wharf logs ID [-f]`.
type LogsCmd struct {
	Follow bool   `short:"f" help:"stream new log output as it is written"`
	ID     string `arg:"" help:"container id or name"`
}

func (l *LogsCmd) Run(cctx *Context) error {
	rc, err := cctx.Client.Logs(rootCtx(), l.ID, l.Follow)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = copyOut(rc)
	return err
}

// ExecCmd implements `wharf exec ID CMD...`.
type ExecCmd struct {
	ID  string   `arg:"" help:"container id or name"`
	Cmd []string `arg:"" help:"command to execute inside the container"`
}

func (e *ExecCmd) Run(cctx *Context) error {
	// When attached to a real terminal, switch it to raw mode for the
	// duration of the exec so the remote command sees unbuffered input,
	// mirroring the teacher's term.IsTerminal check in containers.go before
	// choosing between pipe and pty passthrough.
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		prev, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, prev)
		}
	}

	out, err := cctx.Client.Exec(rootCtx(), e.ID, e.Cmd)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// CommitCmd implements `wharf commit ID IMAGE [-m MSG]`.
type CommitCmd struct {
	Message string `short:"m" help:"commit message"`
	ID      string `arg:"" help:"container id or name"`
	Image   string `arg:"" help:"destination image name[:tag]"`
}

func (c *CommitCmd) Run(cctx *Context) error {
	name, tag := splitRef(c.Image)
	id, err := cctx.Client.Commit(rootCtx(), c.ID, name, tag, c.Message)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

// VersionCmd implements `wharf version`.
type VersionCmd struct{}

func (v *VersionCmd) Run(cctx *Context) error {
	info, err := cctx.Client.Version(rootCtx())
	if err != nil {
		return err
	}
	fmt.Printf("wharf version %s (api %s) %s/%s\n", info.Version, info.APIVersion, info.Os, info.Arch)
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func splitRef(ref string) (name, tag string) {
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
