// Package counter provides a lock-free gauge of work in progress.
package counter

import "sync/atomic"

// Counter counts jobs that are queued or running. The zero value is ready
// to use.
type Counter struct {
	value atomic.Int64
}

// Inc adds a job and returns the new count.
func (c *Counter) Inc() int64 { return c.value.Add(1) }

// Dec removes a job and returns the new count.
func (c *Counter) Dec() int64 { return c.value.Add(-1) }

func (c *Counter) Load() int64 { return c.value.Load() }
