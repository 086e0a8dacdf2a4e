package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

type membership struct {
	chatID int64
	userID int64
}

// Memory is a Store kept entirely in process memory.
type Memory struct {
	mu sync.RWMutex

	users       map[int64]User
	usersByName map[string]int64
	chats       map[int64]Chat
	chatsByName map[string]int64
	members     map[membership]struct{}
	messages    map[int64][]Message

	lastUserID    int64
	lastChatID    int64
	lastMessageID int64
	lastTimestamp time.Time

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[int64]User),
		usersByName: make(map[string]int64),
		chats:       make(map[int64]Chat),
		chatsByName: make(map[string]int64),
		members:     make(map[membership]struct{}),
		messages:    make(map[int64][]Message),
		now:         time.Now,
	}
}

// timestamp returns a strictly increasing UTC time. Caller holds m.mu.
func (m *Memory) timestamp() time.Time {
	ts := m.now().UTC().Truncate(time.Microsecond)
	if !ts.After(m.lastTimestamp) {
		ts = m.lastTimestamp.Add(time.Microsecond)
	}
	m.lastTimestamp = ts
	return ts
}

func (m *Memory) CreateUser(_ context.Context, username, passwordHash string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.usersByName[username]; ok {
		return User{}, ErrDuplicate
	}
	m.lastUserID++
	user := User{
		ID:           m.lastUserID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    m.timestamp(),
	}
	m.users[user.ID] = user
	m.usersByName[username] = user.ID
	return user, nil
}

func (m *Memory) GetUser(_ context.Context, id int64) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersByName[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) CreateChat(_ context.Context, name string) (Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chatsByName[name]; ok {
		return Chat{}, ErrDuplicate
	}
	m.lastChatID++
	for {
		if _, taken := m.chats[m.lastChatID]; !taken {
			break
		}
		m.lastChatID++
	}
	chat := Chat{ID: m.lastChatID, Name: name, CreatedAt: m.timestamp()}
	m.chats[chat.ID] = chat
	m.chatsByName[name] = chat.ID
	return chat, nil
}

func (m *Memory) EnsureChat(_ context.Context, id int64, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[id]; ok {
		return nil
	}
	if _, ok := m.chatsByName[name]; ok {
		return ErrDuplicate
	}
	m.chats[id] = Chat{ID: id, Name: name, CreatedAt: m.timestamp()}
	m.chatsByName[name] = id
	return nil
}

func (m *Memory) GetChat(_ context.Context, id int64) (Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat, ok := m.chats[id]
	if !ok {
		return Chat{}, ErrNotFound
	}
	return chat, nil
}

func (m *Memory) ListChats(_ context.Context) ([]Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chats := make([]Chat, 0, len(m.chats))
	for _, chat := range m.chats {
		chats = append(chats, chat)
	}
	slices.SortFunc(chats, func(a, b Chat) int { return cmp.Compare(a.ID, b.ID) })
	return chats, nil
}

func (m *Memory) AddMember(_ context.Context, chatID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[chatID]; !ok {
		return false, ErrNotFound
	}
	if _, ok := m.users[userID]; !ok {
		return false, ErrNotFound
	}
	key := membership{chatID: chatID, userID: userID}
	if _, ok := m.members[key]; ok {
		return false, nil
	}
	m.members[key] = struct{}{}
	return true, nil
}

func (m *Memory) IsMember(_ context.Context, chatID, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.members[membership{chatID: chatID, userID: userID}]
	return ok, nil
}

func (m *Memory) CreateMessage(_ context.Context, msg NewMessage) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[msg.ChatID]; !ok {
		return Message{}, ErrNotFound
	}
	m.lastMessageID++
	stored := Message{
		ID:          m.lastMessageID,
		ChatID:      msg.ChatID,
		UserID:      msg.UserID,
		Sender:      msg.Sender,
		Content:     msg.Content,
		IsAnonymous: msg.IsAnonymous,
		CreatedAt:   m.timestamp(),
	}
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], stored)
	return stored, nil
}

func (m *Memory) ListMessages(_ context.Context, chatID int64, limit int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.messages[chatID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return slices.Clone(history), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
