// Package storetest holds the behavioural test suite every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("chats", func(t *testing.T) { testChats(t, newStore(t)) })
	t.Run("ensure chat", func(t *testing.T) { testEnsureChat(t, newStore(t)) })
	t.Run("membership", func(t *testing.T) { testMembership(t, newStore(t)) })
	t.Run("messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("message history limit", func(t *testing.T) { testHistoryLimit(t, newStore(t)) })
	t.Run("message to missing chat", func(t *testing.T) { testMessageMissingChat(t, newStore(t)) })
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "alice", user.Username)

	_, err = s.CreateUser(ctx, "alice", "other")
	require.ErrorIs(t, err, store.ErrDuplicate)

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
	assert.Equal(t, "hash", byName.PasswordHash)

	byID, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	_, err = s.GetUserByUsername(ctx, "bob")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetUser(ctx, user.ID+100)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testChats(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.CreateChat(ctx, "random")
	require.NoError(t, err)
	second, err := s.CreateChat(ctx, "dev")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = s.CreateChat(ctx, "random")
	require.ErrorIs(t, err, store.ErrDuplicate)

	got, err := s.GetChat(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev", got.Name)

	_, err = s.GetChat(ctx, 9999)
	require.ErrorIs(t, err, store.ErrNotFound)

	chats, err := s.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, first.ID, chats[0].ID)
	assert.Equal(t, second.ID, chats[1].ID)
}

func testEnsureChat(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.EnsureChat(ctx, 1, "General"))
	require.NoError(t, s.EnsureChat(ctx, 1, "General"))

	chat, err := s.GetChat(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "General", chat.Name)

	next, err := s.CreateChat(ctx, "after-general")
	require.NoError(t, err)
	assert.NotEqual(t, int64(1), next.ID)
}

func testMembership(t *testing.T, s store.Store) {
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "carol", "hash")
	require.NoError(t, err)
	chat, err := s.CreateChat(ctx, "team")
	require.NoError(t, err)

	member, err := s.IsMember(ctx, chat.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, member)

	added, err := s.AddMember(ctx, chat.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddMember(ctx, chat.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, added)

	member, err = s.IsMember(ctx, chat.ID, user.ID)
	require.NoError(t, err)
	assert.True(t, member)

	_, err = s.AddMember(ctx, chat.ID+100, user.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "dave", "hash")
	require.NoError(t, err)
	chat, err := s.CreateChat(ctx, "log")
	require.NoError(t, err)
	other, err := s.CreateChat(ctx, "elsewhere")
	require.NoError(t, err)

	first, err := s.CreateMessage(ctx, store.NewMessage{
		ChatID: chat.ID, UserID: &user.ID, Sender: "dave", Content: "one",
	})
	require.NoError(t, err)
	second, err := s.CreateMessage(ctx, store.NewMessage{
		ChatID: chat.ID, Sender: "Anonymous", Content: "two", IsAnonymous: true,
	})
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, store.NewMessage{ChatID: other.ID, Sender: "Guest", Content: "x"})
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.True(t, second.CreatedAt.After(first.CreatedAt) || second.CreatedAt.Equal(first.CreatedAt))

	history, err := s.ListMessages(ctx, chat.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "one", history[0].Content)
	require.NotNil(t, history[0].UserID)
	assert.Equal(t, user.ID, *history[0].UserID)
	assert.Equal(t, "two", history[1].Content)
	assert.Nil(t, history[1].UserID)
	assert.True(t, history[1].IsAnonymous)
	assert.Equal(t, "Anonymous", history[1].Sender)
}

func testHistoryLimit(t *testing.T, s store.Store) {
	ctx := context.Background()

	chat, err := s.CreateChat(ctx, "busy")
	require.NoError(t, err)
	for _, content := range []string{"a", "b", "c", "d"} {
		_, err := s.CreateMessage(ctx, store.NewMessage{ChatID: chat.ID, Sender: "Guest", Content: content})
		require.NoError(t, err)
	}

	latest, err := s.ListMessages(ctx, chat.ID, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "c", latest[0].Content)
	assert.Equal(t, "d", latest[1].Content)

	empty, err := s.ListMessages(ctx, chat.ID+100, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testMessageMissingChat(t *testing.T, s store.Store) {
	_, err := s.CreateMessage(context.Background(), store.NewMessage{ChatID: 4242, Sender: "Guest", Content: "hi"})
	require.ErrorIs(t, err, store.ErrNotFound)
}
