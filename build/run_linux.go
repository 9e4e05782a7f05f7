//go:build linux

package build

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/wharfd/wharf/internal/apierr"
)

// runInChroot executes a RUN instruction's command with dir as its root,
// in a private mount namespace so any mounts it creates don't leak to the
// host (SPEC_FULL.md Open Question decision: chroot via a helper process
// rather than a full pivot_root, since a build step works against a plain
// staging directory, not a container's bind-mounted rootfs).
func runInChroot(ctx context.Context, dir, command string) error {
	if command == "" {
		return nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = "/"
	cmd.Env = []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Chroot:     dir,
		Cloneflags: unix.CLONE_NEWNS,
	}

	if err := cmd.Run(); err != nil {
		return apierr.Wrap(apierr.Syscall, "run build step", err)
	}
	return nil
}
