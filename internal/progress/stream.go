package progress

import "context"

// Channel is an Emitter backed by a bounded channel. Emit blocks while the
// channel is full, so a slow reader applies backpressure to the producer,
// until ctx ends; after that events are dropped.
type Channel struct {
	ctx context.Context
	ch  chan Event
}

// NewChannel creates a Channel holding up to size undelivered events.
func NewChannel(ctx context.Context, size int) *Channel {
	if size <= 0 {
		size = 1
	}
	return &Channel{ctx: ctx, ch: make(chan Event, size)}
}

// Emit delivers evt in order.
func (c *Channel) Emit(evt Event) {
	select {
	case c.ch <- evt:
	case <-c.ctx.Done():
	}
}

// Events is the receive side of the channel.
func (c *Channel) Events() <-chan Event { return c.ch }

// Close sends done as the Done sentinel and closes the channel. It must be
// called once, by the producer, after its last Emit. Done is always the last
// event delivered: once ctx has ended and the buffer is full, the oldest
// undelivered event is discarded to make room for it.
func (c *Channel) Close(done Event) {
	done.Type = Done
	defer close(c.ch)
	select {
	case c.ch <- done:
		return
	default:
	}
	select {
	case c.ch <- done:
		return
	case <-c.ctx.Done():
	}
	select {
	case <-c.ch:
	default:
	}
	// Only the producer sends, so there is room now.
	c.ch <- done
}
