package chat

import (
	"maps"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

// Options configures a Registry.
type Options struct {
	// MaxConnections caps registered subscriptions across all rooms. Zero means no cap.
	MaxConnections int
	// MailboxCapacity bounds each mailbox with drop-oldest overflow. Zero means unbounded.
	MailboxCapacity int
	Logger          *logrus.Logger
}

// Registry maps rooms to their live subscriptions. A single lock guards the
// whole map; pushes into mailboxes never block, so holding it during a
// broadcast is bounded by the room size.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[RoomID]map[*Subscription]struct{}
	total  int
	closed bool

	maxConnections  int
	mailboxCapacity int
	log             *logrus.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		rooms:           make(map[RoomID]map[*Subscription]struct{}),
		maxConnections:  max(opts.MaxConnections, 0),
		mailboxCapacity: max(opts.MailboxCapacity, 0),
		log:             log,
	}
}

// Register creates a subscription for room. The connected acknowledgment is
// already pending when it is returned and sits outside the bounded mailbox,
// so it is always the first item read.
func (r *Registry) Register(room RoomID) (*Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if r.maxConnections > 0 && r.total >= r.maxConnections {
		total := r.total
		r.mu.Unlock()
		r.log.WithFields(logrus.Fields{"chat_id": room, "clients": total}).Warn("Connection limit reached")
		return nil, ErrResourceExhausted
	}

	sub := newSubscription(room, r.mailboxCapacity)
	sub.acknowledge(ConnectedPayload(room))

	subs, ok := r.rooms[room]
	if !ok {
		subs = make(map[*Subscription]struct{})
		r.rooms[room] = subs
	}
	subs[sub] = struct{}{}
	r.total++
	inRoom, total := len(subs), r.total
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"chat_id": room, "room_clients": inRoom, "clients": total}).Info("Client subscribed")
	return sub, nil
}

// Deregister removes sub from its room and releases its mailbox. Calling it
// again, or after CloseAll, is a no-op.
func (r *Registry) Deregister(sub *Subscription) {
	if sub == nil {
		return
	}

	r.mu.Lock()
	subs, ok := r.rooms[sub.room]
	_, present := subs[sub]
	if ok && present {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.rooms, sub.room)
		}
		r.total--
	}
	inRoom, total := len(subs), r.total
	r.mu.Unlock()

	sub.release()

	if present {
		r.log.WithFields(logrus.Fields{"chat_id": sub.room, "room_clients": inRoom, "clients": total}).Info("Client unsubscribed")
	}
}

// Broadcast enqueues p into every subscription of room and returns how many
// mailboxes accepted it. A room without subscribers is not an error.
func (r *Registry) Broadcast(room RoomID, p *Payload) int {
	if p == nil {
		return 0
	}

	r.mu.RLock()
	delivered := 0
	for sub := range r.rooms[room] {
		if sub.push(p) {
			delivered++
		}
	}
	r.mu.RUnlock()

	r.log.WithFields(logrus.Fields{"chat_id": room, "clients": delivered, "kind": p.kind}).Debug("Broadcast payload")
	return delivered
}

// Count returns the number of subscriptions in room.
func (r *Registry) Count(room RoomID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Total returns the number of subscriptions across all rooms.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// RoomCounts returns subscription counts for every room with at least one
// subscriber, ordered by room id.
func (r *Registry) RoomCounts() []RoomCount {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make([]RoomCount, 0, len(r.rooms))
	for _, room := range slices.Sorted(maps.Keys(r.rooms)) {
		counts = append(counts, RoomCount{Room: room, Clients: len(r.rooms[room])})
	}
	return counts
}

// RoomCount is one entry of RoomCounts.
type RoomCount struct {
	Room    RoomID `json:"chat_id"`
	Clients int    `json:"clients"`
}

// Closed reports whether CloseAll has run.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// CloseAll queues the close sentinel behind whatever each mailbox already
// holds, empties the registry and rejects further registrations. It returns
// the number of subscriptions signalled.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	signalled := 0
	for _, subs := range r.rooms {
		for sub := range subs {
			if sub.signalClose() {
				signalled++
			}
		}
	}
	r.rooms = make(map[RoomID]map[*Subscription]struct{})
	r.total = 0
	r.closed = true
	r.mu.Unlock()

	r.log.WithField("clients", signalled).Info("Signalled all live connections to close")
	return signalled
}
