package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/transport"
	"github.com/contentsquare/webfetch/web"
)

// fetch calls the transport, retrying temporary failures with exponential
// backoff. The outcome is always wrapped in an adapter.
func (e *Engine) fetch(ctx context.Context, req *web.Request, label string) *web.ReplyAdapter {
	backoff := e.retryBackoff
	for attempt := 0; ; attempt++ {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				fetchAttempts.WithLabelValues(label, "rate_limited").Inc()
				return web.NewFailedAdapter(req, fmt.Errorf("cannot fetch %s: rate limit: %w", req.URL, err))
			}
		}

		startTime := time.Now()
		reply, err := e.transport.Fetch(ctx, req)
		fetchDuration.WithLabelValues(label).Observe(time.Since(startTime).Seconds())
		if err == nil {
			fetchAttempts.WithLabelValues(label, "ok").Inc()
			return web.NewOKAdapter(req, reply)
		}
		fetchAttempts.WithLabelValues(label, "error").Inc()

		if attempt >= e.maxRetries || !transport.IsTemporary(err) {
			log.Debugf("engine: fetch of %s failed after %d attempts: %s", req, attempt+1, err)
			return web.NewFailedAdapter(req, err)
		}

		log.Debugf("engine: retrying %s in %s: %s", req, backoff, err)
		fetchRetries.WithLabelValues(label).Inc()
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return web.NewFailedAdapter(req, fmt.Errorf("%w; retry aborted: %s", err, ctx.Err()))
		}
		backoff *= 2
	}
}
