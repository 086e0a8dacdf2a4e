package server

import (
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// credentialsRequest is the body of /register and /login.
type credentialsRequest struct {
	Username string `json:"username" validate:"required,min=3,max=32,printascii"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type createChatRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

type sendMessageRequest struct {
	Content     string `json:"content" validate:"required"`
	ChatID      int64  `json:"chat_id" validate:"required,gt=0"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// inboundFrame is what a WebSocket client sends to post into its room.
type inboundFrame struct {
	Content     string `json:"content" validate:"required"`
	IsAnonymous bool   `json:"is_anonymous"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
}

type guestResponse struct {
	GuestID string `json:"guest_id"`
}

type chatResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toChatResponse(c store.Chat) chatResponse {
	return chatResponse{ID: c.ID, Name: c.Name, CreatedAt: c.CreatedAt}
}

type sendMessageResponse struct {
	Status    string    `json:"status"`
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// messageResponse is one history entry. The author's user id is withheld
// for anonymous posts.
type messageResponse struct {
	ID          int64     `json:"id"`
	ChatID      int64     `json:"chat_id"`
	UserID      *int64    `json:"user_id,omitempty"`
	Sender      string    `json:"sender"`
	Content     string    `json:"content"`
	IsAnonymous bool      `json:"is_anonymous"`
	Timestamp   time.Time `json:"timestamp"`
}

func toMessageResponse(m store.Message) messageResponse {
	resp := messageResponse{
		ID:          m.ID,
		ChatID:      m.ChatID,
		UserID:      m.UserID,
		Sender:      m.Sender,
		Content:     m.Content,
		IsAnonymous: m.IsAnonymous,
		Timestamp:   m.CreatedAt,
	}
	if m.IsAnonymous {
		resp.UserID = nil
	}
	return resp
}

type currentUserResponse struct {
	Username string `json:"username"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

type statsResponse struct {
	Clients int              `json:"clients"`
	Rooms   []chat.RoomCount `json:"rooms"`
}

// errorResponse carries a human readable reason, plus per-field problems
// for validation failures.
type errorResponse struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}
