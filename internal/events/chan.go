package events

import (
	"context"
	"sync"

	"github.com/leapstack-labs/leapguard/pkg/core"
)

// Message is one published record. Exactly one of the fields is set.
type Message struct {
	Violation *core.ViolationRecord
	Event     *core.MonitorEvent
}

// ChanPublisher delivers records to an in-process channel. When the buffer
// is full the record is dropped and counted.
type ChanPublisher struct {
	ch      chan Message
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChanPublisher creates a publisher with the given buffer size.
func NewChanPublisher(buffer int) *ChanPublisher {
	return &ChanPublisher{ch: make(chan Message, buffer)}
}

// C returns the receive channel. It is closed by Close.
func (c *ChanPublisher) C() <-chan Message {
	return c.ch
}

// Dropped returns the number of records lost to a full buffer.
func (c *ChanPublisher) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// PublishViolation implements Publisher.
func (c *ChanPublisher) PublishViolation(_ context.Context, v *core.ViolationRecord) error {
	c.send(Message{Violation: v})
	return nil
}

// PublishMonitorEvent implements Publisher.
func (c *ChanPublisher) PublishMonitorEvent(_ context.Context, e *core.MonitorEvent) error {
	c.send(Message{Event: e})
	return nil
}

func (c *ChanPublisher) send(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- m:
	default:
		c.dropped++
	}
}

// Close implements Publisher.
func (c *ChanPublisher) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
