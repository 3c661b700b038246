// Package sink carries session events to their consumers.
package sink

import (
	"sync"
)

// Sink receives events in emission order. Publish must not block for long;
// it runs on the session's frame loop.
type Sink interface {
	Publish(ev Event)
}

type Func func(ev Event)

func (f Func) Publish(ev Event) {
	f(ev)
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Publish(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ev)
		}
	}
}

// Chan buffers events on a channel. When the buffer is full new events are dropped.
type Chan struct {
	ch      chan Event
	mu      sync.Mutex
	dropped int
}

func NewChan(size int) *Chan {
	return &Chan{ch: make(chan Event, size)}
}

func (c *Chan) Publish(ev Event) {
	select {
	case c.ch <- ev:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

func (c *Chan) Events() <-chan Event {
	return c.ch
}

func (c *Chan) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Discard drops every event.
var Discard Sink = Func(func(Event) {})
