// Package idgen allocates human-readable opaque ids, the way the teacher's
// cmd/sand/new_cmd.go generated sandbox ids with goombaio/namegenerator
// when the caller didn't supply one.
package idgen

import (
	"sync"
	"time"

	"github.com/goombaio/namegenerator"
)

var (
	mu  sync.Mutex
	gen = namegenerator.NewNameGenerator(time.Now().UTC().UnixNano())
)

// Name returns a fresh adjective_surname-style id (e.g. "wistful_hopper").
// Safe for concurrent use; the underlying generator itself is not.
func Name() string {
	mu.Lock()
	defer mu.Unlock()
	return gen.Generate()
}
