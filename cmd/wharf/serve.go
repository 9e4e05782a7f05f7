package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/wharfd/wharf/api"
	"github.com/wharfd/wharf/build"
	"github.com/wharfd/wharf/container"
	"github.com/wharfd/wharf/image"
	"github.com/wharfd/wharf/internal/ambient"
	"github.com/wharfd/wharf/internal/telemetry"
	"github.com/wharfd/wharf/layer"
)

// daemonServeArg marks a re-exec of this binary as the actual, long-running
// daemon process; `wharf daemon` launches it detached (Setpgid) and then
// polls api.Ready before returning, mirroring the teacher's
// startDaemonServer/EnsureDaemon split in cmd/sand/daemon_cmd.go.
const daemonServeArg = "__wharf_daemon_serve__"

// runDaemonServe is the foreground body of the detached daemon process. It
// never returns except on fatal bootstrap error or shutdown signal.
func runDaemonServe(args []string) {
	fs := flag.NewFlagSet("daemon-serve", flag.ExitOnError)
	addr := fs.String("addr", api.DefaultAddr, "bind address")
	stateRoot := fs.String("state-root", "", "state root directory")
	fs.Parse(args)

	if *stateRoot == "" {
		*stateRoot = defaultStateRoot()
	}

	logPath := filepath.Join(*stateRoot, "wharfd.log")
	if _, err := ambient.InitSlog(ambient.DefaultDaemonLogConfig(logPath)); err != nil {
		fmt.Fprintf(os.Stderr, "wharfd: failed to init logging: %v\n", err)
	}

	shutdownTelemetry, err := telemetry.Init(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "wharfd: failed to init telemetry: %v\n", err)
	} else {
		defer shutdownTelemetry(context.Background())
	}

	layers, err := layer.Open(filepath.Join(*stateRoot, "layers"), layer.NewOSFileOps())
	if err != nil {
		fmt.Fprintf(os.Stderr, "wharfd: open layer store: %v\n", err)
		os.Exit(1)
	}
	idx, err := image.OpenIndex(filepath.Join(*stateRoot, "images", "index.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "wharfd: open image index: %v\n", err)
		os.Exit(1)
	}
	images, err := image.Open(filepath.Join(*stateRoot, "metadata"), idx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wharfd: open image catalog: %v\n", err)
		os.Exit(1)
	}
	registry, err := container.OpenRegistry(filepath.Join(*stateRoot, "container-metadata"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "wharfd: open container registry: %v\n", err)
		os.Exit(1)
	}

	engine := container.NewEngine(registry, layers, images, *stateRoot)
	builds := build.New(layers, images)
	srv := api.NewServer(*addr, engine, builds, images, registry)

	if err := srv.ListenAndServe(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "wharfd: %v\n", err)
		os.Exit(1)
	}
}

// runNamespaceInit dispatches into container.RunInit as the container's pid
// 1, per the contract documented in container/namespace_linux.go.
func runNamespaceInit(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "wharf: malformed namespace-init invocation")
		os.Exit(1)
	}
	rootfs, hostname, workdir := args[0], args[1], args[2]
	cmdArgs := args[3:]
	if err := container.RunInit(rootfs, hostname, workdir, cmdArgs); err != nil {
		fmt.Fprintf(os.Stderr, "wharf: namespace init failed: %v\n", err)
		os.Exit(1)
	}
}

// runNamespaceExec dispatches into container.JoinNamespaces for `wharf exec`,
// then execs the trailing argv in place, per the contract documented
// alongside container.ExecReexecArg.
func runNamespaceExec(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "wharf: malformed namespace-exec invocation")
		os.Exit(1)
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "wharf: invalid target pid %q: %v\n", args[0], err)
		os.Exit(1)
	}
	if err := container.JoinNamespaces(pid); err != nil {
		fmt.Fprintf(os.Stderr, "wharf: join namespaces: %v\n", err)
		os.Exit(1)
	}
	cmdArgs := args[1:]
	path, err := exec.LookPath(cmdArgs[0])
	if err != nil {
		path = cmdArgs[0]
	}
	if err := syscall.Exec(path, cmdArgs, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "wharf: exec %v: %v\n", cmdArgs, err)
		os.Exit(1)
	}
}

// DaemonCmd implements `wharf daemon`: start the server as a detached
// background process if it isn't already reachable, then poll for
// readiness, mirroring the teacher's ensureDaemonRunning loop.
type DaemonCmd struct{}

func (d *DaemonCmd) Run(cctx *Context) error {
	if api.Ready(cctx.Addr, 300*time.Millisecond) {
		fmt.Println("daemon already running at", cctx.Addr)
		return nil
	}

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve wharf executable: %w", err)
	}
	cmd := exec.Command(self, daemonServeArg, "--addr", cctx.Addr, "--state-root", cctx.StateRoot)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	for i := 0; i < 50; i++ {
		if api.Ready(cctx.Addr, 200*time.Millisecond) {
			fmt.Println("daemon started, pid", cmd.Process.Pid)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not become ready at %s", cctx.Addr)
}
