package chat

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// FeedState is the lifecycle stage of a live connection.
type FeedState int32

const (
	FeedConnecting FeedState = iota
	FeedStreaming
	FeedClosing
	FeedClosed
)

func (s FeedState) String() string {
	switch s {
	case FeedConnecting:
		return "connecting"
	case FeedStreaming:
		return "streaming"
	case FeedClosing:
		return "closing"
	case FeedClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Feed is the per-connection view of a room: a registered subscription plus
// its lifecycle state. One goroutine consumes it; Send and Close may be
// called from any goroutine.
type Feed struct {
	registry *Registry
	sub      *Subscription

	state     atomic.Int32
	closeOnce sync.Once
}

// Open registers a new live connection on room. The returned feed is in
// FeedStreaming and its first item is the connected acknowledgment. On
// failure nothing stays registered.
func (r *Registry) Open(room RoomID) (*Feed, error) {
	f := &Feed{registry: r}
	f.state.Store(int32(FeedConnecting))

	sub, err := r.Register(room)
	if err != nil {
		f.state.Store(int32(FeedClosed))
		return nil, err
	}
	f.sub = sub
	f.state.Store(int32(FeedStreaming))
	return f, nil
}

func (f *Feed) Room() RoomID { return f.sub.room }

func (f *Feed) State() FeedState { return FeedState(f.state.Load()) }

// Dropped returns how many payloads the bounded mailbox evicted.
func (f *Feed) Dropped() uint64 { return f.sub.Dropped() }

// beginClosing moves Streaming to Closing; later states are left alone.
func (f *Feed) beginClosing() {
	f.state.CompareAndSwap(int32(FeedStreaming), int32(FeedClosing))
}

// Ready fires when the mailbox may have something for Poll. Consumers must
// drain with Poll until it returns nil before waiting again.
func (f *Feed) Ready() <-chan struct{} { return f.sub.notify }

// Poll returns the next queued payload, nil when the mailbox is empty, or
// ErrFeedClosed once the close sentinel is reached or the feed was closed.
func (f *Feed) Poll() (*Payload, error) {
	p, ok, closed := f.sub.poll()
	switch {
	case closed:
		f.beginClosing()
		return nil, ErrFeedClosed
	case !ok:
		return nil, nil
	case p == closeSentinel:
		f.beginClosing()
		return nil, ErrFeedClosed
	default:
		return p, nil
	}
}

// Next blocks until a payload is available. It returns ErrFeedClosed on a
// close request and ctx.Err() when ctx is done; both leave the feed Closing.
func (f *Feed) Next(ctx context.Context) (*Payload, error) {
	for {
		p, err := f.Poll()
		if err != nil || p != nil {
			return p, err
		}
		select {
		case <-f.sub.notify:
		case <-ctx.Done():
			f.beginClosing()
			return nil, ctx.Err()
		}
	}
}

// Send queues p for this connection only. It is how a transport routes
// direct replies through the same single writer as broadcasts.
func (f *Feed) Send(p *Payload) error {
	if p == nil {
		return nil
	}
	if !f.sub.push(p) {
		return ErrFeedClosed
	}
	return nil
}

// Close deregisters the subscription and releases its mailbox. It runs once;
// later calls return immediately.
func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		f.state.Store(int32(FeedClosing))
		f.registry.Deregister(f.sub)
		f.state.Store(int32(FeedClosed))
	})
}

// Payloads yields the feed's payloads until it is closed, ctx is done or the
// consumer stops. The feed is closed when iteration ends.
func (f *Feed) Payloads(ctx context.Context) iter.Seq[*Payload] {
	return func(yield func(*Payload) bool) {
		defer f.Close()
		for {
			p, err := f.Next(ctx)
			if err != nil || !yield(p) {
				return
			}
		}
	}
}
