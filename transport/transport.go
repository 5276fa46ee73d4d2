// Package transport performs network fetches for the dispatch engine.
//
// A Transport makes a single attempt per call. Retries and rate limits are
// decided by the caller.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/contentsquare/webfetch/config"
	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/web"
)

// Transport fetches the resource described by a request.
type Transport interface {
	// Fetch performs the request. Failures, including non-2xx replies,
	// are returned as *Error.
	Fetch(ctx context.Context, req *web.Request) (*web.Reply, error)
}

// Func adapts a function to a Transport.
type Func func(ctx context.Context, req *web.Request) (*web.Reply, error)

// Fetch implements Transport.
func (f Func) Fetch(ctx context.Context, req *web.Request) (*web.Reply, error) {
	return f(ctx, req)
}

// HTTP is a Transport over net/http.
type HTTP struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewHTTP returns an HTTP transport configured by cfg.
func NewHTTP(cfg config.Engine) *HTTP {
	return NewHTTPWithClient(cfg, &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   cfg.Workers,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
			// Content-Encoding is handled by decodeBody
			DisableCompression: true,
		},
	})
}

// NewHTTPWithClient returns an HTTP transport using client.
func NewHTTPWithClient(cfg config.Engine, client *http.Client) *HTTP {
	return &HTTP{
		client:    client,
		timeout:   time.Duration(cfg.FetchTimeout),
		userAgent: cfg.UserAgent,
	}
}

// Fetch implements Transport.
func (t *HTTP) Fetch(ctx context.Context, req *web.Request) (*web.Reply, error) {
	if err := req.Validate(); err != nil {
		return nil, &Error{URL: urlString(req), Err: err}
	}
	rawURL := req.URL.String()

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.EffectiveMethod(), rawURL, body)
	if err != nil {
		return nil, &Error{URL: rawURL, Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if len(httpReq.Header.Get("User-Agent")) == 0 && len(t.userAgent) > 0 {
		httpReq.Header.Set("User-Agent", t.userAgent)
	}
	if len(httpReq.Header.Get("Accept-Encoding")) == 0 {
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	}

	startTime := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &Error{
			URL:       rawURL,
			Err:       fmt.Errorf("cannot send request in %s: %w", time.Since(startTime), err),
			temporary: isTemporaryNetError(ctx, err),
		}
	}
	defer resp.Body.Close()

	data, err := decodeBody(resp)
	if err != nil && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return nil, newStatusError(rawURL, resp.StatusCode, nil)
	}
	if err != nil {
		return nil, &Error{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("cannot read response in %s: %w", time.Since(startTime), err),
			temporary:  isTemporaryNetError(ctx, err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(rawURL, resp.StatusCode, data)
	}

	log.Debugf("fetched %s %s: %d, %d bytes in %s", req.EffectiveMethod(), rawURL, resp.StatusCode, len(data), time.Since(startTime))

	return &web.Reply{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		BytesRead:  int64(len(data)),
	}, nil
}

func urlString(req *web.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.String()
}
