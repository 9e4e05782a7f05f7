// Package layer implements the layer store (spec §4.1): an immutable
// directory of files per layer, chained by parent id. Layer ids are unique
// but not derived from layer content.
package layer

import "time"

// Record is the sidecar metadata persisted alongside each layer's directory.
type Record struct {
	ID          string    `json:"id"`
	Parent      string    `json:"parent,omitempty"`
	Instruction string    `json:"instruction"`
	Created     time.Time `json:"created"`
	SizeBytes   int64     `json:"size_bytes"`
}
