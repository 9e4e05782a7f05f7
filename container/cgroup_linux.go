//go:build linux

package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wharfd/wharf/internal/apierr"
)

// cgroupRoot is the cgroup v2 unified hierarchy mount point (spec REDESIGN
// FLAGS: cgroup v1 compatibility is an explicit non-goal).
const cgroupRoot = "/sys/fs/cgroup"

// cgroupPathFor returns the per-container cgroup directory.
func cgroupPathFor(id string) string {
	return filepath.Join(cgroupRoot, "wharf", id)
}

// EnableSubtreeControllers enables the memory, cpu, and pids controllers on
// the root cgroup so child cgroups can use them, mirroring
// original_source/eg/cgroups.c's one-time "+memory" write to
// cgroup.subtree_control.
func EnableSubtreeControllers() error {
	path := filepath.Join(cgroupRoot, "cgroup.subtree_control")
	for _, ctrl := range []string{"+memory", "+cpu", "+pids"} {
		if err := writeControlFile(path, ctrl); err != nil {
			return apierr.Wrap(apierr.Syscall, fmt.Sprintf("enable controller %s", ctrl), err)
		}
	}
	return nil
}

// SetupCgroup creates the container's cgroup directory and applies any
// non-zero limits (spec §4.6: enforcement is applied in start, before exec,
// whenever at least one limit is set).
func SetupCgroup(id string, limits Limits) (string, error) {
	path := cgroupPathFor(id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", apierr.Wrap(apierr.Syscall, "create cgroup directory", err)
	}

	if limits.MemoryBytes > 0 {
		if err := writeControlFile(filepath.Join(path, "memory.max"), strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
			return "", apierr.Wrap(apierr.Syscall, "set memory.max", err)
		}
	}
	if limits.CPUMillis > 0 {
		// cgroup v2 cpu.max is "<quota> <period>" in microseconds; a period
		// of 100000us (100ms) makes quota directly milli-cores * 100.
		const period = 100000
		quota := limits.CPUMillis * period / 1000
		val := fmt.Sprintf("%d %d", quota, period)
		if err := writeControlFile(filepath.Join(path, "cpu.max"), val); err != nil {
			return "", apierr.Wrap(apierr.Syscall, "set cpu.max", err)
		}
	}
	if limits.PidsMax > 0 {
		if err := writeControlFile(filepath.Join(path, "pids.max"), strconv.FormatInt(limits.PidsMax, 10)); err != nil {
			return "", apierr.Wrap(apierr.Syscall, "set pids.max", err)
		}
	}

	return path, nil
}

// JoinCgroup writes pid into the container's cgroup.procs file, the v2
// equivalent of v1's tasks file (original_source/eg/cgroups.c step 4).
func JoinCgroup(cgroupPath string, pid int) error {
	path := filepath.Join(cgroupPath, "cgroup.procs")
	if err := writeControlFile(path, strconv.Itoa(pid)); err != nil {
		return apierr.Wrap(apierr.Syscall, "join cgroup", err)
	}
	return nil
}

// RemoveCgroup deletes the container's cgroup directory once its process
// has exited; cgroup v2 refuses rmdir while cgroup.procs is non-empty, so
// callers must only invoke this after reaping the process.
func RemoveCgroup(id string) error {
	if err := os.Remove(cgroupPathFor(id)); err != nil && !os.IsNotExist(err) {
		return apierr.Wrap(apierr.Syscall, "remove cgroup", err)
	}
	return nil
}

func writeControlFile(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(value)
	return err
}
