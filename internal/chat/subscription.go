package chat

import "sync"

// RoomID identifies a chat room.
type RoomID int64

// Subscription is the mailbox of one live connection, tagged with its room.
// The registry references it while the connection is registered; the feed
// that created it owns it and is the only consumer.
type Subscription struct {
	room RoomID

	mu       sync.Mutex
	queue    *queue[*Payload]
	ack      *Payload
	closing  bool
	released bool
	dropped  uint64

	// notify holds at most one pending wake-up for the consumer.
	notify chan struct{}
}

func newSubscription(room RoomID, capacity int) *Subscription {
	return &Subscription{
		room:   room,
		queue:  newQueue[*Payload](capacity),
		notify: make(chan struct{}, 1),
	}
}

// Room returns the room this subscription belongs to.
func (s *Subscription) Room() RoomID { return s.room }

// push enqueues p without blocking. It reports false once the mailbox has
// been released or signalled to close.
func (s *Subscription) push(p *Payload) bool {
	s.mu.Lock()
	if s.released || s.closing {
		s.mu.Unlock()
		return false
	}
	if s.queue.push(p) {
		s.dropped++
	}
	s.mu.Unlock()

	s.wake()
	return true
}

// acknowledge holds p ahead of the mailbox. It is never evicted by a full
// bounded queue and poll returns it before anything else.
func (s *Subscription) acknowledge(p *Payload) {
	s.mu.Lock()
	s.ack = p
	s.mu.Unlock()

	s.wake()
}

// signalClose queues the close sentinel. Nothing is accepted after it, so a
// full bounded mailbox can never evict it.
func (s *Subscription) signalClose() bool {
	s.mu.Lock()
	if s.released || s.closing {
		s.mu.Unlock()
		return false
	}
	s.closing = true
	if s.queue.push(closeSentinel) {
		s.dropped++
	}
	s.mu.Unlock()

	s.wake()
	return true
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// poll removes the oldest item. closed is true when the mailbox was released.
func (s *Subscription) poll() (p *Payload, ok, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil, false, true
	}
	if s.ack != nil {
		p, s.ack = s.ack, nil
		return p, true, false
	}
	p, ok = s.queue.pop()
	return p, ok, false
}

// release drops everything still queued; later pushes are no-ops.
func (s *Subscription) release() {
	s.mu.Lock()
	s.released = true
	s.ack = nil
	s.queue.reset()
	s.mu.Unlock()

	s.wake()
}

// Pending returns the number of queued items.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ack != nil {
		return s.queue.len() + 1
	}
	return s.queue.len()
}

// Dropped returns how many items were evicted because the mailbox was full.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
