// Package engine dispatches fetch requests: it resolves the processor, serves
// valid cached artifacts, fetches the rest on a worker pool and delivers the
// processed result to the caller's channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/contentsquare/webfetch/cache"
	"github.com/contentsquare/webfetch/config"
	"github.com/contentsquare/webfetch/internal/counter"
	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/processor"
	"github.com/contentsquare/webfetch/transport"
	"github.com/contentsquare/webfetch/web"
	"golang.org/x/time/rate"
)

type engineOpts struct {
	limiter *rate.Limiter
}

// Option configures an Engine.
type Option interface {
	apply(*engineOpts)
}

type withLimiter struct {
	limiter *rate.Limiter
}

func (o withLimiter) apply(opts *engineOpts) {
	opts.limiter = o.limiter
}

// WithLimiter overrides the limiter built from max_fetch_rate.
func WithLimiter(l *rate.Limiter) Option {
	return withLimiter{limiter: l}
}

// Engine schedules requests and delivers processed results.
type Engine struct {
	cache     *cache.Manager
	transport transport.Transport

	maxRetries   int
	retryBackoff time.Duration
	limiter      *rate.Limiter

	registry *registry
	inflight *inflight
	pool     *pool

	// jobs counts queued and running async jobs.
	jobs counter.Counter

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New returns an Engine serving cached artifacts from m and fetching the
// rest with t. m may be nil, in which case nothing is cached.
func New(cfg config.Engine, m *cache.Manager, t transport.Transport, opts ...Option) (*Engine, error) {
	if t == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	eOpts := engineOpts{}
	if cfg.MaxFetchRate > 0 {
		burst := int(cfg.MaxFetchRate)
		if burst < 1 {
			burst = 1
		}
		eOpts.limiter = rate.NewLimiter(rate.Limit(cfg.MaxFetchRate), burst)
	}
	for _, opt := range opts {
		opt.apply(&eOpts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cache:        m,
		transport:    t,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: time.Duration(cfg.RetryBackoff),
		limiter:      eOpts.limiter,
		registry:     newRegistry(),
		inflight:     newInflight(),
		pool:         newPool(cfg.Workers),
		ctx:          ctx,
		cancel:       cancel,
	}
	log.Debugf("engine: started %d workers; max retries %d", cfg.Workers, cfg.MaxRetries)
	return e, nil
}

// RegisterProcessor makes p available to requests carrying its id. A
// processor registered under the same id is replaced.
func (e *Engine) RegisterProcessor(p processor.Processor) error {
	if p == nil {
		return ErrNilProcessor
	}
	if e.registry.register(p) {
		log.Debugf("engine: processor %d replaced", p.ID())
	}
	return nil
}

// IsProcessorRegistered reports whether a processor is registered under id.
func (e *Engine) IsProcessorRegistered(id int) bool {
	_, ok := e.registry.get(id)
	return ok
}

// InFlight returns the number of queued and running async jobs.
func (e *Engine) InFlight() int64 {
	return e.jobs.Load()
}

// Pending returns the number of distinct requests waiters are attached to.
func (e *Engine) Pending() int {
	return e.inflight.len()
}

// OldestPending returns how long the oldest pending request has been waiting.
func (e *Engine) OldestPending() time.Duration {
	return e.inflight.oldest(time.Now())
}

func (e *Engine) resolve(req *web.Request) (processor.Processor, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, ok := e.registry.get(req.ProcessorID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProcessor, req.ProcessorID)
	}
	return p, nil
}

// SubmitAsync schedules req and returns immediately. The message is
// delivered to ch from a worker goroutine; a submission identical to a
// pending one receives the same message without a second fetch.
//
// Invalid requests and unknown processors are reported here and nothing is
// delivered.
func (e *Engine) SubmitAsync(req *web.Request, ch processor.Channel) error {
	p, err := e.resolve(req)
	if err != nil {
		return err
	}
	req = req.Clone()
	key := req.Key()
	label := processorLabel(p)
	submittedRequests.WithLabelValues(label, "async").Inc()

	if !e.inflight.join(key, ch) {
		coalescedRequests.WithLabelValues(label).Inc()
		log.Debugf("engine: %s attached to a pending request", req)
		return nil
	}

	e.jobs.Inc()
	ok := e.pool.submit(func() {
		defer e.jobs.Dec()
		e.run(e.ctx, &fanout{
			engine: e,
			key:    key,
			req:    req,
			p:      p,
		})
	})
	if !ok {
		e.jobs.Dec()
		// the caller is waiters[0] and gets the error returned; the others
		// already had their submission accepted
		waiters := e.inflight.complete(key)
		if len(waiters) > 1 {
			m := processor.NewErrorMessage(p.ID(), req, ErrClosed)
			for _, w := range waiters[1:] {
				deliver(w, m)
			}
		}
		return ErrClosed
	}
	return nil
}

// SubmitSync fetches or loads req on the caller's goroutine and returns the
// processor output. It blocks for the whole fetch including retries, so it
// must not be called from latency-sensitive goroutines.
func (e *Engine) SubmitSync(ctx context.Context, req *web.Request) (any, error) {
	p, err := e.resolve(req)
	if err != nil {
		return nil, err
	}
	req = req.Clone()
	label := processorLabel(p)
	submittedRequests.WithLabelValues(label, "sync").Inc()

	var (
		out     any
		adapter *web.ReplyAdapter
	)
	if obj := e.lookup(req, p); obj != nil {
		out, err = obtain(p, func() (any, error) {
			return p.ObtainDataObjectFromCachedObject(obj)
		})
	} else {
		adapter = e.fetch(ctx, req, label)
		out, err = obtain(p, func() (any, error) {
			return p.ObtainDataObjectFromWebReply(adapter)
		})
	}

	if err != nil {
		deliveredMessages.WithLabelValues(label, processor.StatusError.String()).Inc()
		return nil, err
	}
	deliveredMessages.WithLabelValues(label, processor.StatusOK.String()).Inc()
	if adapter != nil {
		e.store(req, p, adapter)
	}
	return out, nil
}

func obtain(p processor.Processor, fn func() (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("processor %d panicked: %v", p.ID(), r)
		}
	}()
	return fn()
}

// run resolves a scheduled request and makes sure exactly one message
// reaches the waiters, even when the processor panics or returns without
// delivering.
func (e *Engine) run(ctx context.Context, f *fanout) {
	defer func() {
		err := errNoMessage
		if r := recover(); r != nil {
			err = fmt.Errorf("processor %d panicked: %v", f.p.ID(), r)
			log.Errorf("engine: %s: %s", f.req, err)
		}
		// no-op once the processor has delivered
		f.Deliver(processor.NewErrorMessage(f.p.ID(), f.req, err)) // nolint
	}()

	if obj := e.lookup(f.req, f.p); obj != nil {
		f.p.ProcessCachedObject(obj, f, f.req)
		return
	}
	f.reply = e.fetch(ctx, f.req, processorLabel(f.p))
	f.p.ProcessWebReply(f.reply, f)
}

// usesCache reports whether the cache may be consulted or written for req.
func (e *Engine) usesCache(req *web.Request, p processor.Processor) bool {
	return e.cache != nil && req.CacheTTL.Cacheable() && p.UsesCache()
}

// lookup returns the valid cached artifact of req or nil on a miss. An
// artifact that cannot be loaded is evicted and treated as a miss.
func (e *Engine) lookup(req *web.Request, p processor.Processor) *cache.Object {
	if !e.usesCache(req, p) {
		return nil
	}
	label := processorLabel(p)

	entry, err := e.cache.Lookup(req)
	if err != nil {
		if !errors.Is(err, cache.ErrMissing) {
			log.Errorf("engine: cannot look up %s in cache: %s", req, err)
		}
		cacheMisses.WithLabelValues(label).Inc()
		return nil
	}
	if !e.cache.IsValid(entry, e.cache.Now()) {
		log.Debugf("engine: %s expired", entry)
		cacheMisses.WithLabelValues(label).Inc()
		return nil
	}

	obj, err := e.cache.Load(entry)
	if err != nil {
		log.Errorf("engine: cannot load %s: %s; evicting", entry, err)
		if err := e.cache.Evict(entry); err != nil {
			log.Errorf("engine: cannot evict %s: %s", entry, err)
		}
		cacheMisses.WithLabelValues(label).Inc()
		return nil
	}
	cacheHits.WithLabelValues(label).Inc()
	return obj
}

// store persists the fetched body of a successfully processed request.
// Failures are logged; the result is delivered regardless.
func (e *Engine) store(req *web.Request, p processor.Processor, adapter *web.ReplyAdapter) {
	if !e.usesCache(req, p) || adapter == nil || adapter.Status != web.StatusOK || adapter.Reply == nil {
		return
	}
	if _, err := e.cache.Store(req, adapter.Reply.Body); err != nil {
		cacheStoreErrors.WithLabelValues(processorLabel(p)).Inc()
		log.Errorf("engine: cannot cache %s: %s", req, err)
	}
}

// Close stops accepting submissions and waits for the queued jobs to be
// delivered. It does not close the cache manager.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	log.Debugf("engine: stopping")
	e.pool.close()
	e.cancel()
	log.Debugf("engine: stopped")
}

func processorLabel(p processor.Processor) string {
	return strconv.Itoa(p.ID())
}
