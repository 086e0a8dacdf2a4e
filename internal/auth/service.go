// Package auth covers accounts and credentials: bcrypt password hashes, JWT
// access tokens, registration and login, and resolving a request token to a
// chat identity.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// UserStore is the storage the auth service depends on.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	AddMember(ctx context.Context, chatID, userID int64) (bool, error)
}

// Session is what a successful register or login hands back.
type Session struct {
	AccessToken string
	Username    string
}

// Service registers users, logs them in and resolves tokens to identities.
type Service struct {
	users  UserStore
	tokens *Tokens
	log    *logrus.Logger
}

func NewService(users UserStore, tokens *Tokens, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{users: users, tokens: tokens, log: log}
}

// Register creates the account, joins it to the general chat and issues a token.
func (s *Service) Register(ctx context.Context, username, password string) (Session, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, username, hash)
	if errors.Is(err, store.ErrDuplicate) {
		return Session{}, ErrUsernameTaken
	}
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	if _, err := s.users.AddMember(ctx, int64(chat.GeneralRoom), user.ID); err != nil {
		// the account exists either way; a missing general chat only costs membership
		s.log.WithError(err).WithField("username", username).Warn("Could not join general chat")
	}

	s.log.WithField("username", username).Info("User registered")
	return s.session(user.Username)
}

// Login checks the password and issues a token.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}

	ok, err := ComparePassword(password, user.PasswordHash)
	if err != nil || !ok {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(user.Username)
}

func (s *Service) session(username string) (Session, error) {
	token, _, err := s.tokens.Issue(username)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, Username: username}, nil
}

// CurrentIdentity resolves token to the identity it was issued for. An empty,
// invalid or expired token, or one naming a deleted user, yields a nil
// identity (a guest). Only storage failures are returned as errors.
func (s *Service) CurrentIdentity(ctx context.Context, token string) (*chat.Identity, error) {
	if token == "" {
		return nil, nil
	}
	username, err := s.tokens.Parse(token)
	if err != nil {
		s.log.WithError(err).Debug("Treating request as guest")
		return nil, nil
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &chat.Identity{UserID: user.ID, Username: user.Username}, nil
}
