package progress

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Publish once the channel is closed or a terminal
// event was published.
var ErrClosed = errors.New("progress channel closed")

// Channel fans events from a single writer out to any number of
// subscriptions. There is no replay: a subscription sees only the events
// published after it was made. Subscriptions buffer without bound, so
// Publish never blocks and never drops.
type Channel struct {
	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	terminated bool
	closed     bool
	done       chan struct{}
}

func NewChannel() *Channel {
	return &Channel{
		subs: make(map[*Subscription]struct{}),
		done: make(chan struct{}),
	}
}

// Publish appends e to every live subscription. At most one terminal event
// is accepted; every Publish after it fails with ErrClosed.
func (c *Channel) Publish(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.terminated {
		return ErrClosed
	}
	for sub := range c.subs {
		sub.push(e)
	}
	if e.Terminal() {
		c.terminated = true
	}
	return nil
}

// Close ends every subscription after it drains. Calling Close again is a
// no-op.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for sub := range c.subs {
		sub.end()
	}
	c.subs = nil
	close(c.done)
}

// Done is closed when the channel closes.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribe registers a new reader. Subscribing to a closed channel yields a
// subscription whose Events channel is already closed.
func (c *Channel) Subscribe() *Subscription {
	sub := &Subscription{
		owner:  c,
		ready:  make(chan struct{}, 1),
		cancel: make(chan struct{}),
		out:    make(chan Event),
	}

	c.mu.Lock()
	if c.closed {
		sub.ended = true
	} else {
		c.subs[sub] = struct{}{}
	}
	c.mu.Unlock()

	go sub.pump()
	return sub
}

func (c *Channel) remove(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subs != nil {
		delete(c.subs, sub)
	}
}

// Subscription is one reader's view of a Channel.
type Subscription struct {
	owner *Channel

	mu    sync.Mutex
	queue []Event
	ended bool

	ready      chan struct{}
	cancel     chan struct{}
	cancelOnce sync.Once
	out        chan Event
}

// Events delivers events in publish order and is closed once the channel
// has closed and every queued event was received, or after Close.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close detaches the subscription. Pending events are discarded.
func (s *Subscription) Close() {
	s.cancelOnce.Do(func() {
		close(s.cancel)
		s.owner.remove(s)
	})
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.ready:
				continue
			case <-s.cancel:
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- e:
		case <-s.cancel:
			return
		}
	}
}
