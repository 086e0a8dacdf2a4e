// Package pgstore implements store.Store on PostgreSQL through a pgx
// connection pool. The schema is managed by goose migrations embedded in the
// binary.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store is a store.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to url, verifies the connection and applies pending migrations.
func Open(ctx context.Context, url string, maxConns int32, log *logrus.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := migrate(ctx, pool, log); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// migrate runs goose over a database/sql handle that shares the pool.
func migrate(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if log != nil {
		goose.SetLogger(log)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return store.ErrDuplicate
		case codeForeignKeyViolation:
			return store.ErrNotFound
		}
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (store.User, error) {
	user := store.User{Username: username, PasswordHash: passwordHash}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, created_at`,
		username, passwordHash,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return store.User{}, mapError(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (s *Store) scanUser(row pgx.Row) (store.User, error) {
	var user store.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt); err != nil {
		return store.User{}, mapError(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (store.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE id = $1`, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users WHERE username = $1`, username))
}

func (s *Store) CreateChat(ctx context.Context, name string) (store.Chat, error) {
	chat := store.Chat{Name: name}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chats (name) VALUES ($1) RETURNING id, created_at`, name,
	).Scan(&chat.ID, &chat.CreatedAt)
	if err != nil {
		return store.Chat{}, mapError(err)
	}
	chat.CreatedAt = chat.CreatedAt.UTC()
	return chat, nil
}

// EnsureChat inserts a chat with a fixed id and moves the id sequence past it
// so later CreateChat calls do not collide.
func (s *Store) EnsureChat(ctx context.Context, id int64, name string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO chats (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, name)
		if err != nil {
			return mapError(err)
		}
		_, err = tx.Exec(ctx,
			`SELECT setval(pg_get_serial_sequence('chats', 'id'), GREATEST((SELECT max(id) FROM chats), 1))`)
		return err
	})
}

func (s *Store) GetChat(ctx context.Context, id int64) (store.Chat, error) {
	var chat store.Chat
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM chats WHERE id = $1`, id,
	).Scan(&chat.ID, &chat.Name, &chat.CreatedAt)
	if err != nil {
		return store.Chat{}, mapError(err)
	}
	chat.CreatedAt = chat.CreatedAt.UTC()
	return chat, nil
}

func (s *Store) ListChats(ctx context.Context) ([]store.Chat, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM chats ORDER BY id`)
	if err != nil {
		return nil, err
	}
	chats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Chat, error) {
		var chat store.Chat
		err := row.Scan(&chat.ID, &chat.Name, &chat.CreatedAt)
		chat.CreatedAt = chat.CreatedAt.UTC()
		return chat, err
	})
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *Store) AddMember(ctx context.Context, chatID, userID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		chatID, userID)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) IsMember(ctx context.Context, chatID, userID int64) (bool, error) {
	var member bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&member)
	return member, err
}

func (s *Store) CreateMessage(ctx context.Context, msg store.NewMessage) (store.Message, error) {
	stored := store.Message{
		ChatID:      msg.ChatID,
		UserID:      msg.UserID,
		Sender:      msg.Sender,
		Content:     msg.Content,
		IsAnonymous: msg.IsAnonymous,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO messages (chat_id, user_id, sender, content, is_anonymous)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		msg.ChatID, msg.UserID, msg.Sender, msg.Content, msg.IsAnonymous,
	).Scan(&stored.ID, &stored.CreatedAt)
	if err != nil {
		return store.Message{}, mapError(err)
	}
	stored.CreatedAt = stored.CreatedAt.UTC()
	return stored, nil
}

func (s *Store) ListMessages(ctx context.Context, chatID int64, limit int) ([]store.Message, error) {
	var lim *int64
	if limit > 0 {
		n := int64(limit)
		lim = &n
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, user_id, sender, content, is_anonymous, created_at FROM (
		   SELECT * FROM messages WHERE chat_id = $1 ORDER BY id DESC LIMIT $2
		 ) latest ORDER BY id`,
		chatID, lim)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Message, error) {
		var msg store.Message
		err := row.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Sender, &msg.Content, &msg.IsAnonymous, &msg.CreatedAt)
		msg.CreatedAt = msg.CreatedAt.UTC()
		return msg, err
	})
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
