package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/logger"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/store/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestStore_HistorySurvivesReopen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, logger.Discard())
	req.NoError(err)
	req.NoError(s.EnsureChat(ctx, 1, "General"))
	_, err = s.CreateMessage(ctx, store.NewMessage{ChatID: 1, Sender: "Guest", Content: "persisted"})
	req.NoError(err)
	req.NoError(s.Close())

	reopened, err := Open(dir, logger.Discard())
	req.NoError(err)
	defer reopened.Close()

	history, err := reopened.ListMessages(ctx, 1, 0)
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("persisted", history[0].Content)

	next, err := reopened.CreateMessage(ctx, store.NewMessage{ChatID: 1, Sender: "Guest", Content: "after"})
	req.NoError(err)
	req.Greater(next.ID, history[0].ID)
	req.True(next.CreatedAt.After(history[0].CreatedAt))
}

func TestStore_PingAfterClose(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	require.Error(t, s.Ping(context.Background()))
}
