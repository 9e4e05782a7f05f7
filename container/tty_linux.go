//go:build linux

package container

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/wharfd/wharf/internal/apierr"
)

// SpawnTTY is Spawn's pseudo-terminal variant, used when a container is
// created with TTY set. Grounded on the teacher's ContainerSvc.Exec
// pty.Start fallback in containers.go: the re-exec'd init process' stdio is
// attached to a pty instead of plain pipes, and the returned master file is
// what callers copy to/from for interactive I/O.
func SpawnTTY(id, rootfs, hostname, workdir string, cmdArgs, env []string) (*exec.Cmd, *os.File, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Syscall, "resolve wharf executable path", err)
	}

	args := append([]string{ReexecInitArg, rootfs, hostname, workdir}, cmdArgs...)
	cmd := exec.Command(self, args...)
	cmd.Env = append(append([]string{}, os.Environ()...), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWPID | unix.CLONE_NEWUTS | unix.CLONE_NEWNS,
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, nil, apierr.Wrap(apierr.Syscall, "spawn container with pty "+id, err)
	}
	return cmd, ptmx, nil
}
