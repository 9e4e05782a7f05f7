// Package container implements the container lifecycle engine (spec §4.6):
// namespace/cgroup isolated processes tracked through a JSON-file registry.
package container

import "time"

// State is the container's position in the lifecycle state machine
// (spec §3, confirmed against original_source/core/container.h's
// container_state_t).
type State string

const (
	StateCreated    State = "created"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateRestarting State = "restarting"
	StateRemoving   State = "removing"
	StateExited     State = "exited"
	StateDead       State = "dead"
)

// Limits holds the cgroup v2 resource caps applied at start, zero meaning
// "unset" (spec §4.6: enforcement is applied only when at least one limit
// is non-zero).
type Limits struct {
	MemoryBytes int64 `json:"memory_bytes,omitempty"`
	CPUMillis   int64 `json:"cpu_millis,omitempty"` // CPU quota, in milli-cores
	PidsMax     int64 `json:"pids_max,omitempty"`
}

// Empty reports whether no limit is set.
func (l Limits) Empty() bool { return l.MemoryBytes == 0 && l.CPUMillis == 0 && l.PidsMax == 0 }

// Container is the full persisted record for one container (spec §3's field
// set, adapted from container_info_t to Go idioms: arrays become slices,
// fixed-size name buffers become plain strings).
type Container struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`    // repo:tag the container was created from
	ImageID string `json:"image_id"` // resolved image record id

	Command    []string `json:"command"` // final resolved argv
	WorkingDir string   `json:"working_dir"`
	User       string   `json:"user"`
	Env        []string `json:"env"`

	State    State `json:"state"`
	PID      int   `json:"pid,omitempty"`
	ExitCode int   `json:"exit_code"`

	Created  time.Time  `json:"created"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`

	RootfsPath string `json:"rootfs_path"`
	LogPath    string `json:"log_path"`
	CgroupPath string `json:"cgroup_path,omitempty"`

	// PortBindings and Binds are the port-mapping and volume-bind lists spec
	// §3 lists among a container's essential attributes (host:container
	// port pairs and host:container path pairs, both "host:container").
	PortBindings []string `json:"port_bindings,omitempty"`
	Binds        []string `json:"binds,omitempty"`

	Interactive bool   `json:"interactive"`
	TTY         bool   `json:"tty"`
	Detach      bool   `json:"detach"`
	Limits      Limits `json:"limits"`
}

// Running reports whether the container's state machine position implies a
// live process.
func (c *Container) Running() bool { return c.State == StateRunning }
