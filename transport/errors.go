package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"unicode/utf8"
)

// Error is a failed fetch.
type Error struct {
	URL string

	// StatusCode is set when the origin replied with a non-2xx status.
	StatusCode int

	Err error

	temporary bool
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d: %s", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether repeating the fetch may succeed: network
// failures, 5xx and 429 replies.
func (e *Error) Temporary() bool {
	return e.temporary
}

// IsTemporary reports whether err is a temporary *Error.
func IsTemporary(err error) bool {
	var tErr *Error
	return errors.As(err, &tErr) && tErr.Temporary()
}

const maxErrorBodyLen = 256

func newStatusError(rawURL string, statusCode int, body []byte) *Error {
	msg := http.StatusText(statusCode)
	if len(body) > 0 && utf8.Valid(body) {
		if len(body) > maxErrorBodyLen {
			body = body[:maxErrorBodyLen]
		}
		msg = fmt.Sprintf("%s: %q", msg, body)
	}
	return &Error{
		URL:        rawURL,
		StatusCode: statusCode,
		Err:        errors.New(msg),
		temporary:  statusCode >= 500 || statusCode == http.StatusTooManyRequests,
	}
}

// isTemporaryNetError reports whether err is a network failure worth
// retrying. Cancellation by the caller is not.
func isTemporaryNetError(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
