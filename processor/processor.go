// Package processor turns fetched or cached bytes into typed results and
// delivers them to callers as messages.
package processor

import (
	"fmt"

	"github.com/contentsquare/webfetch/cache"
	"github.com/contentsquare/webfetch/web"
)

// Processor is a pluggable decode and transform unit identified by a stable
// id.
//
// The Process* methods never return errors: every failure, including
// panics in decode or parse, is delivered as a StatusError message. The
// Obtain* methods are the blocking variants and return failures instead.
type Processor interface {
	ID() int

	// UsesCache reports whether cached artifacts may be served to this
	// processor. A processor opting out treats every request as a miss.
	UsesCache() bool

	ProcessWebReply(r *web.ReplyAdapter, ch Channel)
	ProcessCachedObject(obj *cache.Object, ch Channel, req *web.Request)

	ObtainDataObjectFromWebReply(r *web.ReplyAdapter) (any, error)
	ObtainDataObjectFromCachedObject(obj *cache.Object) (any, error)
}

// Status of a delivered message.
type Status uint8

const (
	StatusOK Status = iota
	StatusError
)

func (s Status) String() string {
	if s == StatusOK {
		return "OK"
	}
	return "ERROR"
}

// Message is delivered on a Channel once a request is processed.
type Message struct {
	ProcessorID int
	Status      Status

	// Payload is the processor output. It is nil for StatusError.
	Payload any

	// Err is the failure cause for StatusError.
	Err error

	Request *web.Request
}

// OK reports whether the message carries a payload.
func (m Message) OK() bool {
	return m.Status == StatusOK
}

func (m Message) String() string {
	if m.OK() {
		return fmt.Sprintf("Message [processor=%d, status=%s, request=%s]", m.ProcessorID, m.Status, m.Request)
	}
	return fmt.Sprintf("Message [processor=%d, status=%s, request=%s, err=%s]", m.ProcessorID, m.Status, m.Request, m.Err)
}

// NewErrorMessage returns the message delivered for a failed request.
func NewErrorMessage(processorID int, req *web.Request, err error) Message {
	return Message{
		ProcessorID: processorID,
		Status:      StatusError,
		Err:         err,
		Request:     req,
	}
}

// DecodeError is returned when the bytes cannot be decoded into the
// processor's intermediate representation.
type DecodeError struct {
	ProcessorID int
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("processor %d: cannot decode data: %s", e.ProcessorID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ParseError is returned when the intermediate representation cannot be
// parsed into the processor's output.
type ParseError struct {
	ProcessorID int
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("processor %d: cannot parse data: %s", e.ProcessorID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
