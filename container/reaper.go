//go:build linux

package container

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Reaper background-reaps detached containers' pid 1 processes by polling
// and records their exit in the registry, implementing the "running
// children table" the Design Notes require for detached containers
// (spec §5).
type Reaper struct {
	registry *Registry

	mu      sync.Mutex
	pidToID map[int]string
}

// NewReaper returns a Reaper bound to registry.
func NewReaper(registry *Registry) *Reaper {
	return &Reaper{registry: registry, pidToID: map[int]string{}}
}

// Track registers pid as the init process of container id so its eventual
// exit is attributed to the right record.
func (r *Reaper) Track(pid int, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pidToID[pid] = id
}

func (r *Reaper) untrack(pid int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.pidToID[pid]
	delete(r.pidToID, pid)
	return id
}

// Run blocks, reaping exited children until ctx is cancelled. Intended to
// run as the daemon's single background goroutine (spec §5). Polling rather
// than a SIGCHLD handler avoids racing Go's runtime-internal signal
// handling for os/exec's own child reaping.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reapAvailable()
		}
	}
}

func (r *Reaper) reapAvailable() {
	// Only tracked pids are waited on, so children that os/exec reaps itself
	// (foreground starts, exec helpers, build steps) are never stolen.
	r.mu.Lock()
	pids := make([]int, 0, len(r.pidToID))
	for pid := range r.pidToID {
		pids = append(pids, pid)
	}
	r.mu.Unlock()

	for _, pid := range pids {
		var status unix.WaitStatus
		got, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		if err != nil || got != pid {
			continue
		}

		id := r.untrack(pid)
		if id == "" {
			continue
		}

		exitCode := status.ExitStatus()
		now := time.Now().UTC()
		c, err := r.registry.mutate(id, func(c *Container) error {
			c.State = StateExited
			c.ExitCode = exitCode
			c.Finished = &now
			c.PID = 0
			return nil
		})
		if err != nil {
			slog.Warn("container.Reaper: failed to record exit", "id", id, "error", err)
			continue
		}

		if c.CgroupPath != "" {
			if err := RemoveCgroup(c.ID); err != nil {
				slog.Warn("container.Reaper: cgroup cleanup failed", "id", id, "error", err)
			}
		}
		slog.Info("container.Reaper: reaped", "id", id, "pid", pid, "exit_code", exitCode)
	}
}
