// Package cache stores fetched artifacts on disk and keeps an index of their
// metadata so the dispatch engine can decide whether a cached copy is still
// valid, where it lives and when it must be purged.
package cache

import (
	"errors"
	"fmt"
)

// ErrMissing is returned when the entry isn't found in the cache.
var ErrMissing = errors.New("missing cache entry")

// ErrNotCacheable is returned by Store for requests with a NoCache ttl.
var ErrNotCacheable = errors.New("request is not cacheable")

// Object is a cached artifact loaded from disk.
type Object struct {
	Entry Entry
	Data  []byte
}

// PersistError is returned when the index write fails. The artifact file may
// exist on disk without an index row; the sweeper removes such orphans.
type PersistError struct {
	FileName string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("cannot persist cache entry %q: %s", e.FileName, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
