// Package store defines the persistence contract for users, chats, memberships
// and messages, together with an in-memory implementation. Durable backends
// live in the badger and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user, chat or referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique username or chat name is taken.
	ErrDuplicate = errors.New("already exists")
)

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// Chat is a named room messages are posted to.
type Chat struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage is the input of CreateMessage. UserID is nil for guests.
type NewMessage struct {
	ChatID      int64
	UserID      *int64
	Sender      string
	Content     string
	IsAnonymous bool
}

// Message is a persisted chat message. ID and CreatedAt are assigned by the store.
type Message struct {
	ID          int64     `json:"id"`
	ChatID      int64     `json:"chat_id"`
	UserID      *int64    `json:"user_id,omitempty"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	IsAnonymous bool      `json:"is_anonymous"`
	CreatedAt   time.Time `json:"timestamp"`
}

// Store is implemented by every persistence backend.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)

	CreateChat(ctx context.Context, name string) (Chat, error)
	// EnsureChat creates the chat with the given id if it does not exist yet.
	EnsureChat(ctx context.Context, id int64, name string) error
	GetChat(ctx context.Context, id int64) (Chat, error)
	ListChats(ctx context.Context) ([]Chat, error)

	// AddMember reports whether the user was newly added.
	AddMember(ctx context.Context, chatID, userID int64) (bool, error)
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)

	// CreateMessage fails with ErrNotFound when the chat does not exist.
	CreateMessage(ctx context.Context, msg NewMessage) (Message, error)
	// ListMessages returns the newest limit messages in chronological order.
	// A limit <= 0 returns the whole history.
	ListMessages(ctx context.Context, chatID int64, limit int) ([]Message, error)

	Ping(ctx context.Context) error
	Close() error
}
