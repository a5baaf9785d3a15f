// Package realtime is the realtime key-value store the signaling layer and
// room presence are built on. A path holds a flat set of keyed children;
// watchers receive a full snapshot of those children after every change.
package realtime

import (
	"context"
	"errors"
	"strings"
)

// Snapshot holds the children of a path at one point in time, keyed by child key.
type Snapshot map[string][]byte

// Unsubscribe stops a watch. It is safe to call more than once.
type Unsubscribe func()

// ErrInvalidPath is returned for empty paths or keys.
var ErrInvalidPath = errors.New("realtime: invalid path or key")

// Store is the capability set consumed from the realtime backend.
type Store interface {
	// Set writes value under path/key.
	Set(ctx context.Context, path, key string, value []byte) error

	// Delete removes path/key. Deleting a missing key is not an error.
	Delete(ctx context.Context, path, key string) error

	// Get returns the current children of path.
	Get(ctx context.Context, path string) (Snapshot, error)

	// Watch calls fn with the current children of path, and again after
	// every change under path until the returned Unsubscribe is called or
	// ctx is done. Changes may be coalesced; fn is never called
	// concurrently with itself for one watch.
	Watch(ctx context.Context, path string, fn func(Snapshot)) (Unsubscribe, error)

	// Clear removes every child of path.
	Clear(ctx context.Context, path string) error
}

// Join builds a slash-separated store path.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

func validate(path string, keys ...string) error {
	if path == "" {
		return ErrInvalidPath
	}
	for _, k := range keys {
		if k == "" {
			return ErrInvalidPath
		}
	}
	return nil
}

func (s Snapshot) clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
