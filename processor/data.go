package processor

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/contentsquare/webfetch/cache"
	"github.com/contentsquare/webfetch/log"
	"github.com/contentsquare/webfetch/web"
)

// Source is the input of a Decoder.
type Source struct {
	Body []byte

	// StatusCode and Header are empty for cached artifacts.
	StatusCode int
	Header     http.Header

	Cached bool
}

// Decoder converts raw bytes into an intermediate representation.
type Decoder[I any] func(src Source) (I, error)

// Parser extracts the output from the intermediate representation.
type Parser[I, O any] func(in I) (O, error)

// Identity is a Parser returning its input.
func Identity[T any](in T) (T, error) {
	return in, nil
}

// ReturnMessageFunc builds the message delivered for a successful output.
type ReturnMessageFunc func(processorID int, payload any, req *web.Request) Message

// DefaultReturnMessage is the ReturnMessageFunc used unless overridden.
func DefaultReturnMessage(processorID int, payload any, req *web.Request) Message {
	return Message{
		ProcessorID: processorID,
		Status:      StatusOK,
		Payload:     payload,
		Request:     req,
	}
}

type options struct {
	usesCache     bool
	returnMessage ReturnMessageFunc
}

func defaultOptions() options {
	return options{
		usesCache:     true,
		returnMessage: DefaultReturnMessage,
	}
}

// Option configures a DataProcessor.
type Option interface {
	apply(*options)
}

type withoutCache struct{}

func (withoutCache) apply(opts *options) {
	opts.usesCache = false
}

// WithoutCache makes the processor ignore cached artifacts.
func WithoutCache() Option {
	return withoutCache{}
}

type withReturnMessage struct {
	fn ReturnMessageFunc
}

func (o withReturnMessage) apply(opts *options) {
	if o.fn != nil {
		opts.returnMessage = o.fn
	}
}

// WithReturnMessage overrides the message built for successful outputs.
func WithReturnMessage(fn ReturnMessageFunc) Option {
	return withReturnMessage{fn: fn}
}

// DataProcessor implements Processor from a Decoder and a Parser.
type DataProcessor[I, O any] struct {
	id     int
	decode Decoder[I]
	parse  Parser[I, O]
	opts   options
}

// New returns a DataProcessor with the given id. It panics if decode or
// parse is nil, as registering such a processor is a programming error.
func New[I, O any](id int, decode Decoder[I], parse Parser[I, O], opts ...Option) *DataProcessor[I, O] {
	if decode == nil || parse == nil {
		panic(fmt.Sprintf("BUG: processor %d: decoder and parser must be set", id))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(&o)
	}
	return &DataProcessor[I, O]{
		id:     id,
		decode: decode,
		parse:  parse,
		opts:   o,
	}
}

// ID implements Processor.
func (p *DataProcessor[I, O]) ID() int { return p.id }

// UsesCache implements Processor.
func (p *DataProcessor[I, O]) UsesCache() bool { return p.opts.usesCache }

// Obtain runs decode and parse on src and returns the typed output.
func (p *DataProcessor[I, O]) Obtain(src Source) (out O, err error) {
	stage := "decode"
	defer func() {
		if r := recover(); r != nil {
			err = p.stageError(stage, fmt.Errorf("panic: %v", r))
		}
	}()

	in, err := p.decode(src)
	if err != nil {
		return out, p.stageError(stage, err)
	}
	stage = "parse"
	out, err = p.parse(in)
	if err != nil {
		return out, p.stageError(stage, err)
	}
	return out, nil
}

func (p *DataProcessor[I, O]) stageError(stage string, err error) error {
	if stage == "decode" {
		return &DecodeError{ProcessorID: p.id, Err: err}
	}
	return &ParseError{ProcessorID: p.id, Err: err}
}

// ObtainDataObjectFromWebReply implements Processor.
func (p *DataProcessor[I, O]) ObtainDataObjectFromWebReply(r *web.ReplyAdapter) (any, error) {
	src, err := sourceFromReply(r)
	if err != nil {
		return nil, err
	}
	return p.obtainAny(src)
}

// ObtainDataObjectFromCachedObject implements Processor.
func (p *DataProcessor[I, O]) ObtainDataObjectFromCachedObject(obj *cache.Object) (any, error) {
	if obj == nil {
		return nil, &DecodeError{ProcessorID: p.id, Err: errors.New("nil cached object")}
	}
	return p.obtainAny(Source{
		Body:   obj.Data,
		Cached: true,
	})
}

func (p *DataProcessor[I, O]) obtainAny(src Source) (any, error) {
	out, err := p.Obtain(src)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProcessWebReply implements Processor.
func (p *DataProcessor[I, O]) ProcessWebReply(r *web.ReplyAdapter, ch Channel) {
	var req *web.Request
	if r != nil {
		req = r.Request
	}
	out, err := p.ObtainDataObjectFromWebReply(r)
	p.deliver(ch, req, out, err)
}

// ProcessCachedObject implements Processor.
func (p *DataProcessor[I, O]) ProcessCachedObject(obj *cache.Object, ch Channel, req *web.Request) {
	out, err := p.ObtainDataObjectFromCachedObject(obj)
	p.deliver(ch, req, out, err)
}

func (p *DataProcessor[I, O]) deliver(ch Channel, req *web.Request, out any, err error) {
	var m Message
	if err != nil {
		m = NewErrorMessage(p.id, req, err)
	} else {
		m = p.returnMessage(out, req)
	}
	Deliver(ch, m)
}

func (p *DataProcessor[I, O]) returnMessage(out any, req *web.Request) (m Message) {
	defer func() {
		if r := recover(); r != nil {
			m = NewErrorMessage(p.id, req, fmt.Errorf("processor %d: cannot build return message: panic: %v", p.id, r))
		}
	}()
	return p.opts.returnMessage(p.id, out, req)
}

// Deliver sends m to ch and logs delivery failures. Delivery to a closed
// channel is a no-op.
func Deliver(ch Channel, m Message) {
	if ch == nil {
		log.Debugf("dropping %s: no channel", m)
		return
	}
	err := ch.Deliver(m)
	switch {
	case err == nil:
	case errors.Is(err, ErrChannelClosed):
		log.Debugf("dropping %s: channel closed", m)
	default:
		log.Errorf("cannot deliver %s: %s", m, err)
	}
}

func sourceFromReply(r *web.ReplyAdapter) (Source, error) {
	if r == nil {
		return Source{}, errors.New("nil reply")
	}
	if r.Status != web.StatusOK {
		if r.Err != nil {
			return Source{}, r.Err
		}
		return Source{}, fmt.Errorf("fetch of %s failed", r.Request)
	}
	if r.Reply == nil {
		return Source{}, fmt.Errorf("fetch of %s succeeded without a reply", r.Request)
	}
	return Source{
		Body:       r.Reply.Body,
		StatusCode: r.Reply.StatusCode,
		Header:     r.Reply.Header,
	}, nil
}
