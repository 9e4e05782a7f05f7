//go:build linux

package container

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/wharfd/wharf/internal/apierr"
)

// ReexecInitArg marks a re-exec of the wharf binary as the namespace init
// process rather than the CLI. cmd/wharf's main checks for this before
// parsing CLI flags (spec REDESIGN FLAGS: clone-based child process is the
// only acceptable implementation of namespace isolation).
const ReexecInitArg = "__wharf_namespace_init__"

// Spawn starts the container's pid 1 in new PID, UTS, and mount namespaces
// by re-executing the current binary with ReexecInitArg; the re-exec'd
// process (see RunInit) performs the pivot_root dance and then execs the
// real command. Grounded on original_source/eg/namespaces.c's
// clone(child_main, ... CLONE_NEWPID|CLONE_NEWUTS|CLONE_NEWNS).
func Spawn(id, rootfs, hostname, workdir string, cmdArgs, env []string, stdin *os.File, stdout, stderr *os.File) (*exec.Cmd, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, apierr.Wrap(apierr.Syscall, "resolve wharf executable path", err)
	}

	args := append([]string{ReexecInitArg, rootfs, hostname, workdir}, cmdArgs...)
	cmd := exec.Command(self, args...)
	cmd.Env = append(append([]string{}, os.Environ()...), env...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWPID | unix.CLONE_NEWUTS | unix.CLONE_NEWNS,
	}

	if err := cmd.Start(); err != nil {
		return nil, apierr.Wrap(apierr.Syscall, fmt.Sprintf("spawn container %s", id), err)
	}
	return cmd, nil
}

// RunInit runs inside the freshly cloned namespaces as the container's pid
// 1. It sets the hostname, makes mounts private, pivots the root to rootfs,
// then execs cmdArgs — replacing this process image, exactly as
// original_source/eg/namespaces.c's child_main does with execlp.
//
// main() in cmd/wharf dispatches here when os.Args[1] == ReexecInitArg,
// before any CLI flag parsing.
func RunInit(rootfs, hostname, workdir string, cmdArgs []string) error {
	if err := unix.Sethostname([]byte(hostname)); err != nil {
		return apierr.Wrap(apierr.Syscall, "sethostname", err)
	}

	if err := unix.Mount("", "/", "", unix.MS_PRIVATE|unix.MS_REC, ""); err != nil {
		return apierr.Wrap(apierr.Syscall, "make mount namespace private", err)
	}

	// pivot_root requires its target to be a mount point distinct from its
	// parent; bind-mount rootfs onto itself to satisfy that.
	if err := unix.Mount(rootfs, rootfs, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return apierr.Wrap(apierr.Syscall, "bind-mount rootfs", err)
	}

	oldRoot := filepath.Join(rootfs, ".wharf-old-root")
	if err := os.MkdirAll(oldRoot, 0o755); err != nil {
		return apierr.Wrap(apierr.IO, "create pivot_root staging dir", err)
	}
	if err := unix.PivotRoot(rootfs, oldRoot); err != nil {
		return apierr.Wrap(apierr.Syscall, "pivot_root", err)
	}
	if err := unix.Chdir("/"); err != nil {
		return apierr.Wrap(apierr.Syscall, "chdir to new root", err)
	}

	const oldRootMount = "/.wharf-old-root"
	if err := unix.Unmount(oldRootMount, unix.MNT_DETACH); err != nil {
		return apierr.Wrap(apierr.Syscall, "unmount old root", err)
	}
	if err := os.RemoveAll(oldRootMount); err != nil {
		return apierr.Wrap(apierr.IO, "remove old root mount point", err)
	}

	if workdir != "" && workdir != "/" {
		if err := unix.Chdir(workdir); err != nil {
			return apierr.Wrap(apierr.Syscall, fmt.Sprintf("chdir to workdir %q", workdir), err)
		}
	}

	if len(cmdArgs) == 0 {
		return apierr.InvalidArgumentf("no command to exec inside container")
	}
	path, err := exec.LookPath(cmdArgs[0])
	if err != nil {
		path = cmdArgs[0]
	}
	if err := syscall.Exec(path, cmdArgs, os.Environ()); err != nil {
		return apierr.Wrap(apierr.Syscall, fmt.Sprintf("exec %v", cmdArgs), err)
	}
	return nil // unreachable: syscall.Exec only returns on error
}

// JoinNamespaces joins the namespaces of the running container with pid
// targetPID, for `wharf exec` (spec §4.6, SPEC_FULL.md §C). It opens each
// /proc/<pid>/ns/* file and calls setns before the caller execs the new
// command, so the new process lands inside the target's PID, mount, and
// UTS namespaces.
func JoinNamespaces(targetPID int) error {
	for _, ns := range []string{"pid", "mnt", "uts"} {
		path := fmt.Sprintf("/proc/%d/ns/%s", targetPID, ns)
		fd, err := unix.Open(path, unix.O_RDONLY, 0)
		if err != nil {
			return apierr.Wrap(apierr.Syscall, fmt.Sprintf("open %s", path), err)
		}
		err = unix.Setns(fd, 0)
		unix.Close(fd)
		if err != nil {
			return apierr.Wrap(apierr.Syscall, fmt.Sprintf("setns %s", ns), err)
		}
	}
	return nil
}
