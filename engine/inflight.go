package engine

import (
	"sync"
	"time"

	"github.com/contentsquare/webfetch/processor"
)

type pendingCall struct {
	createdAt time.Time
	waiters   []processor.Channel
}

// inflight is a registry of requests being fetched or processed, keyed by
// web.Request.Key. Identical requests submitted while one is pending wait
// for its message instead of fetching again.
type inflight struct {
	mu      sync.Mutex
	pending map[string]*pendingCall
}

func newInflight() *inflight {
	return &inflight{
		pending: make(map[string]*pendingCall),
	}
}

// join registers ch as a waiter for key. It returns true when the caller
// is the first waiter and must run the request.
func (i *inflight) join(key string, ch processor.Channel) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if c, ok := i.pending[key]; ok {
		c.waiters = append(c.waiters, ch)
		return false
	}
	i.pending[key] = &pendingCall{
		createdAt: time.Now(),
		waiters:   []processor.Channel{ch},
	}
	return true
}

// complete removes key and returns its waiters. Submissions after complete
// start a new call.
func (i *inflight) complete(key string) []processor.Channel {
	i.mu.Lock()
	defer i.mu.Unlock()
	c, ok := i.pending[key]
	if !ok {
		return nil
	}
	delete(i.pending, key)
	return c.waiters
}

// len returns the number of distinct pending requests.
func (i *inflight) len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}

// oldest returns the age of the longest pending request.
func (i *inflight) oldest(now time.Time) time.Duration {
	i.mu.Lock()
	defer i.mu.Unlock()
	var d time.Duration
	for _, c := range i.pending {
		if age := now.Sub(c.createdAt); age > d {
			d = age
		}
	}
	return d
}
