package auth

import (
	"sync"
	"time"
)

// closeDrainTimeout bounds how long Close keeps delivering queued events to a
// subscriber that is not reading.
const closeDrainTimeout = time.Second

// Bus fans notifications out to subscribers. Each subscriber has its own
// unbounded queue drained by a dedicated goroutine, so Publish never blocks,
// nothing is dropped and every subscriber sees events in publish order.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending  []Notification
	closed   bool
	draining bool
	drain    *time.Timer
	done     chan struct{}
	out      chan Notification
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a subscriber. The returned channel is closed after
// cancel is called, or after the bus is closed and the queued events have
// been delivered. Events published before Subscribe are not replayed.
func (b *Bus) Subscribe() (<-chan Notification, func()) {
	sub := &subscriber{
		done: make(chan struct{}),
		out:  make(chan Notification),
	}
	sub.cond = sync.NewCond(&sub.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.out)
		return sub.out, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go sub.dispatchLoop()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			sub.close()
		})
	}
	return sub.out, cancel
}

// Publish enqueues n for every current subscriber.
func (b *Bus) Publish(n Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		sub.enqueue(n)
	}
}

// Close detaches all subscribers. Events already queued are still delivered,
// for at most closeDrainTimeout per subscriber, before its channel closes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, sub := range subs {
		sub.startDrain()
	}
}

func (s *subscriber) enqueue(n Notification) {
	s.mu.Lock()
	if !s.closed && !s.draining {
		s.pending = append(s.pending, n)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	if s.drain != nil {
		s.drain.Stop()
	}
	close(s.done)
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *subscriber) startDrain() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.draining {
		return
	}
	s.draining = true
	s.drain = time.AfterFunc(closeDrainTimeout, s.close)
	s.cond.Broadcast()
}

func (s *subscriber) dispatchLoop() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed && !s.draining {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			s.close()
			return
		}
		next := s.pending[0]
		s.pending[0] = Notification{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
