//go:generate go run go.uber.org/mock/mockgen -source=ingress.go -destination=mocks/mock_message_store.go -package=mocks
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/store"
)

// GeneralRoom is the open room guests may post to.
const GeneralRoom RoomID = 1

const (
	senderAnonymous = "Anonymous"
	senderGuest     = "Guest"
)

// Identity is an authenticated sender. A nil *Identity is a guest.
type Identity struct {
	UserID   int64
	Username string
}

// MessageStore is the slice of storage Ingress needs.
type MessageStore interface {
	GetChat(ctx context.Context, id int64) (store.Chat, error)
	IsMember(ctx context.Context, chatID, userID int64) (bool, error)
	CreateMessage(ctx context.Context, msg store.NewMessage) (store.Message, error)
}

// Ingress accepts posts, persists them and fans them out.
type Ingress struct {
	store    MessageStore
	registry *Registry
	log      *logrus.Logger

	// roomLocks holds one *sync.Mutex per room.
	roomLocks sync.Map
}

func NewIngress(messages MessageStore, registry *Registry, log *logrus.Logger) *Ingress {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Ingress{store: messages, registry: registry, log: log}
}

// SenderLabel resolves the display name stored and broadcast with a message.
func SenderLabel(who *Identity, anonymous bool) string {
	switch {
	case anonymous:
		return senderAnonymous
	case who != nil && who.Username != "":
		return who.Username
	default:
		return senderGuest
	}
}

func (in *Ingress) roomLock(room RoomID) *sync.Mutex {
	mu, _ := in.roomLocks.LoadOrStore(room, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Submit validates a post, persists it and broadcasts the stored record to
// the room. Broadcast is best effort: once persisted, the post has succeeded.
func (in *Ingress) Submit(ctx context.Context, room RoomID, who *Identity, content string, anonymous bool) (store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return store.Message{}, ErrInvalidContent
	}

	if err := in.authorize(ctx, room, who); err != nil {
		return store.Message{}, err
	}

	var userID *int64
	if who != nil {
		id := who.UserID
		userID = &id
	}

	// persist and broadcast under one lock so live order matches storage order
	mu := in.roomLock(room)
	mu.Lock()
	defer mu.Unlock()

	msg, err := in.store.CreateMessage(ctx, store.NewMessage{
		ChatID:      int64(room),
		UserID:      userID,
		Sender:      SenderLabel(who, anonymous),
		Content:     content,
		IsAnonymous: anonymous,
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Message{}, fmt.Errorf("chat %d: %w", room, ErrNotFound)
	}
	if err != nil {
		return store.Message{}, fmt.Errorf("persist message: %w", err)
	}

	payload, err := NewMessagePayload(msg)
	if err != nil {
		in.log.WithError(err).WithField("chat_id", room).Error("Failed to build broadcast payload")
		return msg, nil
	}
	delivered := in.registry.Broadcast(room, payload)

	in.log.WithFields(logrus.Fields{
		"chat_id":    room,
		"message_id": msg.ID,
		"clients":    delivered,
	}).Debug("Message submitted")
	return msg, nil
}

func (in *Ingress) authorize(ctx context.Context, room RoomID, who *Identity) error {
	if _, err := in.store.GetChat(ctx, int64(room)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("chat %d: %w", room, ErrNotFound)
		}
		return fmt.Errorf("load chat: %w", err)
	}

	if who == nil {
		if room != GeneralRoom {
			return fmt.Errorf("guests may only post to chat %d: %w", GeneralRoom, ErrForbidden)
		}
		return nil
	}

	member, err := in.store.IsMember(ctx, int64(room), who.UserID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return fmt.Errorf("%s is not a member of chat %d: %w", who.Username, room, ErrForbidden)
	}
	return nil
}
