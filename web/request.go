// Package web holds the data model shared by the transport, the processors
// and the dispatch engine: what to fetch, what came back and how the attempt
// ended.
package web

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohae/deepcopy"
)

// ErrInvalidRequest is returned by Validate.
var ErrInvalidRequest = errors.New("invalid request")

var supportedMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

// Request describes what to fetch and which processor turns the result into
// a typed value.
type Request struct {
	URL    *url.URL
	Method string
	Header http.Header
	Body   []byte

	// CacheTTL controls whether and for how long the fetched artifact is
	// cached. The zero value is not valid, see NewRequest.
	CacheTTL TTL

	// ProcessorID must reference a registered processor at dispatch time.
	ProcessorID int
}

// NewRequest returns a GET request for rawURL handled by processorID.
// The request is not cached by default.
func NewRequest(rawURL string, processorID int) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot parse url %q: %s", ErrInvalidRequest, rawURL, err)
	}
	r := &Request{
		URL:         u,
		Method:      http.MethodGet,
		Header:      make(http.Header),
		CacheTTL:    NoCache,
		ProcessorID: processorID,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// AddHeader appends value to the header field key.
func (r *Request) AddHeader(key, value string) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Add(key, value)
}

// Validate checks the request invariants.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if r.URL == nil || len(r.URL.String()) == 0 {
		return fmt.Errorf("%w: url cannot be empty", ErrInvalidRequest)
	}
	if !r.URL.IsAbs() || len(r.URL.Host) == 0 {
		return fmt.Errorf("%w: url %q must be absolute", ErrInvalidRequest, r.URL)
	}
	if _, ok := supportedMethods[r.method()]; !ok {
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, r.Method)
	}
	if !r.CacheTTL.IsValid() {
		return fmt.Errorf("%w: invalid cache ttl %d", ErrInvalidRequest, r.CacheTTL)
	}
	return nil
}

func (r *Request) method() string {
	if len(r.Method) == 0 {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

// EffectiveMethod returns the HTTP method, defaulting to GET.
func (r *Request) EffectiveMethod() string {
	return r.method()
}

// Key identifies identical requests for coalescing: same method, URL,
// processor and body.
func (r *Request) Key() string {
	h := sha256.New()
	h.Write([]byte(r.method()))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.String()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(r.ProcessorID)))
	h.Write([]byte{0})
	h.Write(r.Body)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.URL != nil {
		// url.Userinfo is immutable and safe to share.
		u := *r.URL
		c.URL = &u
	}
	c.Header = deepcopy.Copy(r.Header).(http.Header)
	c.Body = deepcopy.Copy(r.Body).([]byte)
	return &c
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s [processor=%d ttl=%s]", r.method(), r.URL, r.ProcessorID, r.CacheTTL)
}
