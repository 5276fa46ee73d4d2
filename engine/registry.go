package engine

import (
	"sync"

	"github.com/contentsquare/webfetch/processor"
)

type registry struct {
	mu         sync.RWMutex
	processors map[int]processor.Processor
}

func newRegistry() *registry {
	return &registry{
		processors: make(map[int]processor.Processor),
	}
}

// register stores p under its id and reports whether it replaced another
// processor.
func (r *registry) register(p processor.Processor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, replaced := r.processors[p.ID()]
	r.processors[p.ID()] = p
	return replaced
}

func (r *registry) get(id int) (processor.Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[id]
	return p, ok
}
