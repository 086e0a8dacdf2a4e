package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/store"
)

// Kind identifies what a Payload carries.
type Kind string

const (
	KindConnected Kind = "connected"
	KindMessage   Kind = "message"
	KindError     Kind = "error"

	kindClose Kind = "close"
)

var (
	errMissingSender    = errors.New("payload: sender is required")
	errMissingTimestamp = errors.New("payload: timestamp is required")
)

// Payload is an immutable outbound item. Its wire encodings are computed once
// at construction and shared by every mailbox it is pushed to, so callers
// must not modify the slices returned by Data and Frame.
type Payload struct {
	kind  Kind
	id    int64
	room  RoomID
	data  []byte
	frame []byte
}

// closeSentinel is compared by identity and never written to a transport.
var closeSentinel = &Payload{kind: kindClose}

type messageData struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type connectedData struct {
	Status string `json:"status"`
	ChatID int64  `json:"chat_id"`
}

type errorData struct {
	Error string `json:"error"`
}

type frame struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newPayload(kind Kind, id int64, room RoomID, v any) (*Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	framed, err := json.Marshal(frame{Type: kind, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", kind, err)
	}
	return &Payload{kind: kind, id: id, room: room, data: data, frame: framed}, nil
}

// NewMessagePayload shapes a persisted message for broadcast.
func NewMessagePayload(msg store.Message) (*Payload, error) {
	if strings.TrimSpace(msg.Sender) == "" {
		return nil, errMissingSender
	}
	if msg.CreatedAt.IsZero() {
		return nil, errMissingTimestamp
	}
	return newPayload(KindMessage, msg.ID, RoomID(msg.ChatID), messageData{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		Timestamp: msg.CreatedAt.UTC(),
	})
}

// ConnectedPayload is the acknowledgment every feed yields first.
func ConnectedPayload(room RoomID) *Payload {
	p, err := newPayload(KindConnected, 0, room, connectedData{Status: "connected", ChatID: int64(room)})
	if err != nil {
		// fixed shape, cannot fail to encode
		panic(err)
	}
	return p
}

// ErrorPayload reports a failed inbound post back to a single socket.
func ErrorPayload(room RoomID, message string) *Payload {
	p, err := newPayload(KindError, 0, room, errorData{Error: message})
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Payload) Kind() Kind { return p.kind }

// ID is the persisted message id, zero for non-message payloads.
func (p *Payload) ID() int64 { return p.id }

func (p *Payload) Room() RoomID { return p.room }

// Data is the JSON body used as the SSE data field.
func (p *Payload) Data() []byte { return p.data }

// Frame is the JSON envelope {"type":...,"data":...} sent over WebSocket.
func (p *Payload) Frame() []byte { return p.frame }
