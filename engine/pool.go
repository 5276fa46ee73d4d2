package engine

import (
	"sync"

	"github.com/contentsquare/webfetch/log"
)

// pool runs jobs on a fixed number of workers. The queue is unbounded so
// that submit never blocks the caller.
type pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	wg sync.WaitGroup
}

func newPool(workers int) *pool {
	if workers <= 0 {
		workers = 1
	}
	p := &pool{}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			log.Debugf("engine: worker %d start", n)
			p.worker()
			log.Debugf("engine: worker %d stop", n)
			p.wg.Done()
		}(i)
	}
	return p
}

// submit queues job. It returns false once the pool is closed.
func (p *pool) submit(job func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.queue = append(p.queue, job)
	p.cond.Signal()
	return true
}

func (p *pool) worker() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// closed and drained
			p.mu.Unlock()
			return
		}
		job := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		job()
	}
}

// close stops accepting jobs and waits until the queued ones have run.
func (p *pool) close() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
