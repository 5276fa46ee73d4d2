package engine

import (
	"sync"

	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/processor"
	"github.com/contentsquare/webfetch/web"
)

// fanout is the Channel handed to the processor of a scheduled request. The
// first delivered message caches the fetched artifact when it is OK and is
// then forwarded to every waiter of the request. Later deliveries are
// dropped.
type fanout struct {
	engine *Engine
	key    string
	req    *web.Request
	p      processor.Processor

	// reply is nil when the request was served from the cache.
	reply *web.ReplyAdapter

	once sync.Once
}

// Deliver implements processor.Channel.
func (f *fanout) Deliver(m processor.Message) error {
	f.once.Do(func() {
		f.complete(m)
	})
	return nil
}

func (f *fanout) complete(m processor.Message) {
	e := f.engine
	if m.OK() && f.reply != nil {
		e.store(f.req, f.p, f.reply)
	}
	deliveredMessages.WithLabelValues(processorLabel(f.p), m.Status.String()).Inc()

	for _, ch := range e.inflight.complete(f.key) {
		deliver(ch, m)
	}
}

// deliver forwards m to a single waiter. A panicking handler cannot keep
// the other waiters from their message.
func deliver(ch processor.Channel, m processor.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("engine: handler panicked on %s: %v", m, r)
		}
	}()
	processor.Deliver(ch, m)
}
