package broker

import (
	"context"

	"github.com/ghjm/lowpan/pkg/x/modifiers"
)

// broker code adapted from https://stackoverflow.com/questions/36417199/how-to-broadcast-message-using-channel
// which is licensed under Creative Commons CC BY-SA 4.0.

// Broker implements a fan-out system where multiple consumers can subscribe and receive published messages.
// Every subscriber sees every message, in publish order.
type Broker[T any] interface {
	// Publish dispatches a message to all subscribed receivers.  It returns once the broker has taken the
	// message; delivery to a subscriber whose channel is full waits for that subscriber.
	Publish(T)
	// Subscribe returns a channel that will receive published messages.
	Subscribe() <-chan T
	// Unsubscribe stops sending messages and closes the channel.  The caller is
	// responsible for draining any remaining messages pending for the channel.
	Unsubscribe(<-chan T)
}

// Options control the behavior of a broker
type Options struct {
	// SubscriberBuffer is the capacity of each subscriber channel
	SubscriberBuffer int
}

// WithSubscriberBuffer modifies New to give each subscriber channel a buffer of n messages
func WithSubscriberBuffer(n int) func(*Options) {
	return func(o *Options) {
		o.SubscriberBuffer = n
	}
}

// broker implements Broker
type broker[T any] struct {
	ctx       context.Context
	opts      Options
	publishCh chan T
	subCh     chan chan T
	unSubCh   chan (<-chan T)
}

// New starts a new broker, which runs until ctx is cancelled.
func New[T any](ctx context.Context, mods ...func(*Options)) Broker[T] {
	b := &broker[T]{
		ctx:       ctx,
		publishCh: make(chan T),
		subCh:     make(chan chan T),
		unSubCh:   make(chan (<-chan T)),
	}
	modifiers.ProcessMods(&b.opts, mods)
	go b.run()
	return b
}

func (b *broker[T]) run() {
	subs := make(map[<-chan T]chan T)
	for {
		select {
		case <-b.ctx.Done():
			return
		case msgCh := <-b.subCh:
			subs[msgCh] = msgCh
		case msgCh := <-b.unSubCh:
			realCh := subs[msgCh]
			delete(subs, msgCh)
			if realCh != nil {
				close(realCh)
			}
		case msg := <-b.publishCh:
			for _, msgCh := range subs {
				select {
				case <-b.ctx.Done():
					return
				case msgCh <- msg:
				}
			}
		}
	}
}

func (b *broker[T]) Publish(msg T) {
	select {
	case <-b.ctx.Done():
	case b.publishCh <- msg:
	}
}

func (b *broker[T]) Subscribe() <-chan T {
	msgCh := make(chan T, b.opts.SubscriberBuffer)
	select {
	case <-b.ctx.Done():
		return nil
	case b.subCh <- msgCh:
		return msgCh
	}
}

func (b *broker[T]) Unsubscribe(msgCh <-chan T) {
	// drain until the run loop closes the channel, so a pending delivery cannot block it
	go func() {
		for {
			select {
			case <-b.ctx.Done():
				return
			case _, ok := <-msgCh:
				if !ok {
					return
				}
			}
		}
	}()
	select {
	case <-b.ctx.Done():
	case b.unSubCh <- msgCh:
	}
}
