package processor

import (
	"errors"
	"sync"
)

// ErrChannelClosed is returned by Deliver once the receiver has gone away.
// The engine ignores it.
var ErrChannelClosed = errors.New("channel closed")

// Channel receives processed messages.
type Channel interface {
	Deliver(m Message) error
}

// HandlerFunc adapts a function to a Channel. It is called on the
// delivering goroutine.
type HandlerFunc func(m Message)

// Deliver implements Channel.
func (f HandlerFunc) Deliver(m Message) error {
	f(m)
	return nil
}

// Mailbox is a Channel backed by a Go channel.
//
// The underlying channel is never closed, so a late delivery cannot panic;
// after Close every delivery returns ErrChannelClosed.
type Mailbox struct {
	ch        chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel returns a Mailbox buffering up to buf messages.
func NewChannel(buf int) *Mailbox {
	return &Mailbox{
		ch:   make(chan Message, buf),
		done: make(chan struct{}),
	}
}

// C returns the channel messages are received from.
func (mb *Mailbox) C() <-chan Message {
	return mb.ch
}

// Done is closed when the mailbox is closed.
func (mb *Mailbox) Done() <-chan struct{} {
	return mb.done
}

// Close marks the receiver as gone. It is safe to call more than once.
func (mb *Mailbox) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)
	})
}

// Deliver implements Channel. It blocks while the buffer is full and the
// mailbox is open.
func (mb *Mailbox) Deliver(m Message) error {
	select {
	case <-mb.done:
		return ErrChannelClosed
	default:
	}

	select {
	case mb.ch <- m:
		return nil
	case <-mb.done:
		return ErrChannelClosed
	}
}
