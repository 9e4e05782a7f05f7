// Package image implements the image catalog (spec §4.2): named, tagged
// handles onto an ordered layer stack plus a runtime config.
package image

import (
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

const defaultTag = "latest"

// Record is a single (name, tag) catalog entry, persisted as JSON under
// <state_root>/metadata/<name:tag>.json (spec §6).
type Record struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Tag          string    `json:"tag"`
	LayerIDs     []string  `json:"layer_ids"`
	Architecture string    `json:"architecture"`
	OS           string    `json:"os"`
	Author       string    `json:"author,omitempty"`
	Created      time.Time `json:"created"`
	SizeBytes    int64     `json:"size_bytes"`

	// Config reuses the OCI runtime config struct (default command, working
	// dir, env, exposed ports, volumes, entrypoint) rather than hand-rolling
	// an equivalent type.
	Config v1.Config `json:"config"`
}

// RepoTag renders the "name:tag" form used in API summaries (spec §6).
func (r *Record) RepoTag() string {
	tag := r.Tag
	if tag == "" {
		tag = defaultTag
	}
	return r.Name + ":" + tag
}

// NormalizeTag defaults an empty tag to "latest".
func NormalizeTag(tag string) string {
	if tag == "" {
		return defaultTag
	}
	return tag
}

func key(name, tag string) string {
	return name + ":" + NormalizeTag(tag)
}
