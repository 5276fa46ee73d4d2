// Package middleware holds HTTP handlers wrapping the daemon endpoints.
package middleware

import (
	"net/http"
	"strings"

	"github.com/contentsquare/webfetch/config"
)

const (
	xForwardedForHeader = "X-Forwarded-For"
	xRealIPHeader       = "X-Real-Ip"
	forwardedHeader     = "Forwarded"
)

// ClientAddr rewrites r.RemoteAddr with the client address reported by a
// trusted reverse proxy before calling next. The connection address is kept
// when the proxy is disabled or reports nothing.
type ClientAddr struct {
	proxy config.Proxy

	next http.Handler
}

func NewClientAddr(proxy config.Proxy, next http.Handler) *ClientAddr {
	return &ClientAddr{
		proxy: proxy,
		next:  next,
	}
}

func (m *ClientAddr) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if addr := m.clientAddr(r); len(addr) > 0 {
		r.RemoteAddr = addr
	}
	m.next.ServeHTTP(w, r)
}

func (m *ClientAddr) clientAddr(r *http.Request) string {
	if !m.proxy.Enable {
		return ""
	}
	if len(m.proxy.Header) > 0 {
		return firstAddr(r.Header.Get(m.proxy.Header))
	}
	if v := r.Header.Get(xForwardedForHeader); len(v) > 0 {
		return firstAddr(v)
	}
	if v := r.Header.Get(xRealIPHeader); len(v) > 0 {
		return firstAddr(v)
	}
	if v := r.Header.Get(forwardedHeader); len(v) > 0 {
		return forwardedFor(v)
	}
	return ""
}

// firstAddr returns the first item of a comma separated address list, which
// is the original client.
func firstAddr(list string) string {
	if i := strings.IndexByte(list, ','); i >= 0 {
		list = list[:i]
	}
	return strings.TrimSpace(list)
}

// forwardedFor returns the first for= parameter of an RFC 7239 Forwarded
// header.
func forwardedFor(v string) string {
	for _, element := range strings.Split(firstAddr(v), ";") {
		element = strings.TrimSpace(element)
		if len(element) > 4 && strings.EqualFold(element[:4], "for=") {
			return strings.Trim(element[4:], `"`)
		}
	}
	return ""
}
