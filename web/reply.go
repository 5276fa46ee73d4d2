package web

import (
	"fmt"
	"net/http"
)

// Reply is the outcome of a completed network fetch.
type Reply struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	BytesRead  int64
}

func (r *Reply) String() string {
	return fmt.Sprintf("Reply [status=%d, bytesRead=%d, header=%v]", r.StatusCode, r.BytesRead, r.Header)
}

// Status is the result of a fetch attempt.
type Status uint8

const (
	StatusOK Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusOK {
		return "OK"
	}
	return "FAILED"
}

// ReplyAdapter wraps a fetch attempt uniformly for the sync and async paths.
// Reply is set iff Status is StatusOK; Err is set iff Status is StatusFailed.
type ReplyAdapter struct {
	Status  Status
	Reply   *Reply
	Request *Request
	Err     error
}

// NewOKAdapter wraps a successful reply.
func NewOKAdapter(req *Request, reply *Reply) *ReplyAdapter {
	return &ReplyAdapter{
		Status:  StatusOK,
		Reply:   reply,
		Request: req,
	}
}

// NewFailedAdapter wraps a failed fetch attempt.
func NewFailedAdapter(req *Request, err error) *ReplyAdapter {
	return &ReplyAdapter{
		Status:  StatusFailed,
		Request: req,
		Err:     err,
	}
}
