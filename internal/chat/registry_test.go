package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/logger"
	"github.com/Tyrowin/roomchat/internal/store"
)

func newTestRegistry(opts Options) *Registry {
	opts.Logger = logger.Discard()
	return NewRegistry(opts)
}

func messagePayload(t *testing.T, room RoomID, id int64) *Payload {
	t.Helper()
	p, err := NewMessagePayload(store.Message{
		ID:        id,
		ChatID:    int64(room),
		Sender:    "Guest",
		Content:   fmt.Sprintf("message %d", id),
		CreatedAt: time.Unix(id, 0),
	})
	require.NoError(t, err)
	return p
}

// pollAll drains sub and returns what it held, skipping the connected ack.
func pollAll(sub *Subscription) []*Payload {
	var out []*Payload
	for {
		p, ok, _ := sub.poll()
		if !ok {
			return out
		}
		if p.Kind() == KindConnected {
			continue
		}
		out = append(out, p)
	}
}

func TestRegistry_RegisterQueuesConnectedFirst(t *testing.T) {
	r := newTestRegistry(Options{})

	sub, err := r.Register(4)
	require.NoError(t, err)
	assert.Equal(t, RoomID(4), sub.Room())
	assert.Equal(t, 1, r.Count(4))
	assert.Equal(t, 1, r.Total())

	r.Broadcast(4, messagePayload(t, 4, 1))

	first, ok, _ := sub.poll()
	require.True(t, ok)
	assert.Equal(t, KindConnected, first.Kind())
	assert.Equal(t, RoomID(4), first.Room())

	second, ok, _ := sub.poll()
	require.True(t, ok)
	assert.Equal(t, KindMessage, second.Kind())
}

func TestRegistry_BroadcastToEmptyRoom(t *testing.T) {
	r := newTestRegistry(Options{})
	other, err := r.Register(2)
	require.NoError(t, err)

	assert.Equal(t, 0, r.Broadcast(99, messagePayload(t, 99, 1)))
	assert.Equal(t, 0, r.Broadcast(99, nil))
	assert.Empty(t, pollAll(other))
	assert.Equal(t, 0, r.Count(99))
}

func TestRegistry_BroadcastStaysInRoom(t *testing.T) {
	r := newTestRegistry(Options{})
	a, _ := r.Register(1)
	b, _ := r.Register(1)
	c, _ := r.Register(2)

	p := messagePayload(t, 1, 1)
	assert.Equal(t, 2, r.Broadcast(1, p))

	assert.Equal(t, []*Payload{p}, pollAll(a))
	assert.Equal(t, []*Payload{p}, pollAll(b))
	assert.Empty(t, pollAll(c))
}

func TestRegistry_DeregisterStopsDelivery(t *testing.T) {
	r := newTestRegistry(Options{})
	sub, err := r.Register(1)
	require.NoError(t, err)

	r.Deregister(sub)
	assert.Equal(t, 0, r.Count(1))
	assert.Equal(t, 0, r.Total())
	assert.Empty(t, r.RoomCounts())

	assert.Equal(t, 0, r.Broadcast(1, messagePayload(t, 1, 1)))
	_, ok, closed := sub.poll()
	assert.False(t, ok)
	assert.True(t, closed)
}

func TestRegistry_DeregisterTwiceIsNoop(t *testing.T) {
	r := newTestRegistry(Options{})
	keep, _ := r.Register(1)
	gone, _ := r.Register(1)

	r.Deregister(gone)
	r.Deregister(gone)
	r.Deregister(nil)

	assert.Equal(t, 1, r.Count(1))
	assert.Equal(t, 1, r.Total())
	assert.Equal(t, 1, r.Broadcast(1, messagePayload(t, 1, 1)))
	assert.Len(t, pollAll(keep), 1)
}

func TestRegistry_MaxConnections(t *testing.T) {
	r := newTestRegistry(Options{MaxConnections: 2})
	first, err := r.Register(1)
	require.NoError(t, err)
	_, err = r.Register(2)
	require.NoError(t, err)

	_, err = r.Register(1)
	require.ErrorIs(t, err, ErrResourceExhausted)
	assert.Equal(t, 2, r.Total())

	r.Deregister(first)
	_, err = r.Register(1)
	require.NoError(t, err)
}

func TestRegistry_BoundedMailboxDropsOldest(t *testing.T) {
	r := newTestRegistry(Options{MailboxCapacity: 2})
	sub, err := r.Register(1)
	require.NoError(t, err)

	p1 := messagePayload(t, 1, 1)
	p2 := messagePayload(t, 1, 2)
	p3 := messagePayload(t, 1, 3)
	r.Broadcast(1, p1)
	r.Broadcast(1, p2)
	r.Broadcast(1, p3)

	assert.Equal(t, uint64(1), sub.Dropped())
	assert.Equal(t, []*Payload{p2, p3}, pollAll(sub))
}

func TestRegistry_BoundedMailboxKeepsConnectedAck(t *testing.T) {
	for _, capacity := range []int{1, 2} {
		t.Run(fmt.Sprintf("capacity %d", capacity), func(t *testing.T) {
			r := newTestRegistry(Options{MailboxCapacity: capacity})
			feed, err := r.Open(1)
			require.NoError(t, err)
			assert.Equal(t, 1, feed.sub.Pending())

			for id := int64(1); id <= 3; id++ {
				r.Broadcast(1, messagePayload(t, 1, id))
			}

			first, err := feed.Poll()
			require.NoError(t, err)
			assert.Equal(t, KindConnected, first.Kind())

			var ids []int64
			for {
				p, err := feed.Poll()
				require.NoError(t, err)
				if p == nil {
					break
				}
				require.Equal(t, KindMessage, p.Kind())
				ids = append(ids, p.ID())
			}
			assert.Len(t, ids, capacity)
			assert.Equal(t, int64(3), ids[len(ids)-1])
			assert.Equal(t, uint64(3-capacity), feed.Dropped())
		})
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := newTestRegistry(Options{})
	a, _ := r.Register(1)
	b, _ := r.Register(2)

	p := messagePayload(t, 1, 1)
	r.Broadcast(1, p)

	assert.Equal(t, 2, r.CloseAll())
	assert.Equal(t, 0, r.Total())
	assert.Empty(t, r.RoomCounts())
	assert.True(t, r.Closed())

	msgs := pollAll(a)
	require.Len(t, msgs, 2)
	assert.Same(t, p, msgs[0])
	assert.Same(t, closeSentinel, msgs[1])
	assert.Equal(t, []*Payload{closeSentinel}, pollAll(b))

	_, err := r.Register(1)
	require.ErrorIs(t, err, ErrRegistryClosed)
	assert.Equal(t, 0, r.CloseAll())
}

func TestRegistry_CloseSentinelSurvivesFullMailbox(t *testing.T) {
	r := newTestRegistry(Options{MailboxCapacity: 1})
	sub, _ := r.Register(1)

	r.CloseAll()
	assert.False(t, sub.push(messagePayload(t, 1, 9)))

	ack, ok, _ := sub.poll()
	require.True(t, ok)
	assert.Equal(t, KindConnected, ack.Kind())

	p, ok, _ := sub.poll()
	require.True(t, ok)
	assert.Same(t, closeSentinel, p)
}

func TestRegistry_ConcurrentRegisterBroadcastDeregister(t *testing.T) {
	r := newTestRegistry(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var broadcasts sync.WaitGroup
	broadcasts.Add(1)
	go func() {
		defer broadcasts.Done()
		for i := int64(1); ctx.Err() == nil; i++ {
			r.Broadcast(1, messagePayload(t, 1, i))
		}
	}()

	var clients sync.WaitGroup
	for i := 0; i < 50; i++ {
		clients.Add(1)
		go func() {
			defer clients.Done()
			sub, err := r.Register(1)
			if !assert.NoError(t, err) {
				return
			}
			time.Sleep(time.Millisecond)
			r.Deregister(sub)
			r.Deregister(sub)
		}()
	}
	clients.Wait()
	cancel()
	broadcasts.Wait()

	assert.Equal(t, 0, r.Count(1))
	assert.Equal(t, 0, r.Total())
}

func TestRegistry_RoomCounts(t *testing.T) {
	r := newTestRegistry(Options{})
	_, _ = r.Register(3)
	_, _ = r.Register(1)
	_, _ = r.Register(3)

	assert.Equal(t, []RoomCount{{Room: 1, Clients: 1}, {Room: 3, Clients: 2}}, r.RoomCounts())
}
