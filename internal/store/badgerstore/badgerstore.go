// Package badgerstore implements store.Store on top of an embedded BadgerDB.
//
// Records are JSON encoded. Keys:
//
//	user:{id}              -> User
//	username:{name}        -> id
//	chat:{id}              -> Chat
//	chatname:{name}        -> id
//	member:{chat}:{user}   -> empty
//	msg:{chat}:{id}        -> Message
//
// Numeric key parts are zero padded to 19 digits so lexicographic order is
// numeric order, which lets history be read with a reverse prefix scan.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/store"
)

const sequenceBandwidth = 100

// Store is a store.Store backed by BadgerDB.
type Store struct {
	db *badger.DB

	userSeq *badger.Sequence
	chatSeq *badger.Sequence
	msgSeq  *badger.Sequence

	// writes are serialised so uniqueness checks and timestamps stay consistent
	mu            sync.Mutex
	lastTimestamp time.Time
	now           func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) a database directory at path.
func Open(path string, log *logrus.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	if log != nil {
		opts = opts.WithLogger(log)
	} else {
		opts = opts.WithLogger(nil)
	}
	return open(opts)
}

// OpenInMemory opens a database that lives only in memory.
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := &Store{db: db, now: time.Now}

	for name, dst := range map[string]**badger.Sequence{
		"seq:user": &s.userSeq,
		"seq:chat": &s.chatSeq,
		"seq:msg":  &s.msgSeq,
	} {
		seq, err := db.GetSequence([]byte(name), sequenceBandwidth)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("sequence %s: %w", name, err)
		}
		*dst = seq
	}
	return s, nil
}

func pad(n int64) string { return fmt.Sprintf("%019d", n) }

func userKey(id int64) []byte { return []byte("user:" + pad(id)) }
func usernameKey(name string) []byte { return []byte("username:" + name) }
func chatKey(id int64) []byte { return []byte("chat:" + pad(id)) }
func chatnameKey(name string) []byte { return []byte("chatname:" + name) }
func memberKey(chat, user int64) []byte { return []byte("member:" + pad(chat) + ":" + pad(user)) }
func messagePrefix(chat int64) []byte { return []byte("msg:" + pad(chat) + ":") }
func messageKey(chat, id int64) []byte { return append(messagePrefix(chat), pad(id)...) }

// nextID draws the next positive id from seq.
func nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

// timestamp returns a strictly increasing UTC time. Caller holds s.mu.
func (s *Store) timestamp() time.Time {
	ts := s.now().UTC().Truncate(time.Microsecond)
	if !ts.After(s.lastTimestamp) {
		ts = s.lastTimestamp.Add(time.Microsecond)
	}
	s.lastTimestamp = ts
	return ts
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getID(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return id, err
}

func setID(txn *badger.Txn, key []byte, id int64) error {
	return txn.Set(key, []byte(strconv.FormatInt(id, 10)))
}

func (s *Store) CreateUser(_ context.Context, username, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var user store.User
	err := s.db.Update(func(txn *badger.Txn) error {
		taken, err := exists(txn, usernameKey(username))
		if err != nil {
			return err
		}
		if taken {
			return store.ErrDuplicate
		}
		id, err := nextID(s.userSeq)
		if err != nil {
			return err
		}
		user = store.User{ID: id, Username: username, PasswordHash: passwordHash, CreatedAt: s.timestamp()}
		if err := setJSON(txn, userKey(id), user); err != nil {
			return err
		}
		return setID(txn, usernameKey(username), id)
	})
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(_ context.Context, id int64) (store.User, error) {
	var user store.User
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, userKey(id), &user)
	})
	return user, err
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (store.User, error) {
	var user store.User
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, usernameKey(username))
		if err != nil {
			return err
		}
		return getJSON(txn, userKey(id), &user)
	})
	return user, err
}

func (s *Store) CreateChat(_ context.Context, name string) (store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chat store.Chat
	err := s.db.Update(func(txn *badger.Txn) error {
		taken, err := exists(txn, chatnameKey(name))
		if err != nil {
			return err
		}
		if taken {
			return store.ErrDuplicate
		}
		// ids seeded through EnsureChat are skipped
		var id int64
		for {
			if id, err = nextID(s.chatSeq); err != nil {
				return err
			}
			used, err := exists(txn, chatKey(id))
			if err != nil {
				return err
			}
			if !used {
				break
			}
		}
		chat = store.Chat{ID: id, Name: name, CreatedAt: s.timestamp()}
		if err := setJSON(txn, chatKey(id), chat); err != nil {
			return err
		}
		return setID(txn, chatnameKey(name), id)
	})
	if err != nil {
		return store.Chat{}, err
	}
	return chat, nil
}

func (s *Store) EnsureChat(_ context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		present, err := exists(txn, chatKey(id))
		if err != nil || present {
			return err
		}
		taken, err := exists(txn, chatnameKey(name))
		if err != nil {
			return err
		}
		if taken {
			return store.ErrDuplicate
		}
		if err := setJSON(txn, chatKey(id), store.Chat{ID: id, Name: name, CreatedAt: s.timestamp()}); err != nil {
			return err
		}
		return setID(txn, chatnameKey(name), id)
	})
}

func (s *Store) GetChat(_ context.Context, id int64) (store.Chat, error) {
	var chat store.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, chatKey(id), &chat)
	})
	return chat, err
}

func (s *Store) ListChats(_ context.Context) ([]store.Chat, error) {
	chats := []store.Chat{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("chat:")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var chat store.Chat
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &chat)
			})
			if err != nil {
				return err
			}
			chats = append(chats, chat)
		}
		return nil
	})
	return chats, err
}

func (s *Store) AddMember(_ context.Context, chatID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var added bool
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{chatKey(chatID), userKey(userID)} {
			ok, err := exists(txn, key)
			if err != nil {
				return err
			}
			if !ok {
				return store.ErrNotFound
			}
		}
		key := memberKey(chatID, userID)
		already, err := exists(txn, key)
		if err != nil || already {
			return err
		}
		added = true
		return txn.Set(key, nil)
	})
	return added, err
}

func (s *Store) IsMember(_ context.Context, chatID, userID int64) (bool, error) {
	var member bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		member, err = exists(txn, memberKey(chatID, userID))
		return err
	})
	return member, err
}

func (s *Store) CreateMessage(_ context.Context, msg store.NewMessage) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored store.Message
	err := s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, chatKey(msg.ChatID))
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrNotFound
		}
		id, err := nextID(s.msgSeq)
		if err != nil {
			return err
		}
		stored = store.Message{
			ID:          id,
			ChatID:      msg.ChatID,
			UserID:      msg.UserID,
			Sender:      msg.Sender,
			Content:     msg.Content,
			IsAnonymous: msg.IsAnonymous,
			CreatedAt:   s.timestamp(),
		}
		return setJSON(txn, messageKey(msg.ChatID, id), stored)
	})
	if err != nil {
		return store.Message{}, err
	}
	return stored, nil
}

// ListMessages walks the room's keys newest first and stops at limit, then
// flips the page back into chronological order.
func (s *Store) ListMessages(_ context.Context, chatID int64, limit int) ([]store.Message, error) {
	messages := []store.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(chatID)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(slices.Clone(prefix), "9999999999999999999"...)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var msg store.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

// Close releases the id leases and closes the database.
func (s *Store) Close() error {
	var errs []error
	for _, seq := range []*badger.Sequence{s.userSeq, s.chatSeq, s.msgSeq} {
		if seq != nil {
			errs = append(errs, seq.Release())
		}
	}
	errs = append(errs, s.db.Close())
	return errors.Join(errs...)
}
