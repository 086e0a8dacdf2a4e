package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

const healthCheckTimeout = 2 * time.Second

// identity resolves the caller from an Authorization bearer token, or from
// the token query parameter browsers use for EventSource and WebSocket.
func (s *Server) identity(r *http.Request) (*chat.Identity, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return s.auth.CurrentIdentity(r.Context(), token)
}

// requireIdentity is identity for endpoints guests may not use.
func (s *Server) requireIdentity(r *http.Request) (*chat.Identity, error) {
	who, err := s.identity(r)
	if err != nil {
		return nil, err
	}
	if who == nil {
		return nil, errAuthRequired
	}
	return who, nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: session.AccessToken, TokenType: "bearer", Username: session.Username})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			requestLogger(r, s.log).WithField("username", req.Username).Info("Failed login attempt")
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: session.AccessToken, TokenType: "bearer", Username: session.Username})
}

// handleAnonymous hands out a throwaway display id for guests.
func (s *Server) handleAnonymous(w http.ResponseWriter, _ *http.Request) {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	writeJSON(w, http.StatusOK, guestResponse{GuestID: "guest_" + hex[:8]})
}

func (s *Server) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	who, err := s.identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, currentUserResponse{Username: chat.SenderLabel(who, false)})
}

// handleCreateChat creates a named chat and makes the caller its first member.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	who, err := s.requireIdentity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createChatRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	created, err := s.store.CreateChat(r.Context(), req.Name)
	if errors.Is(err, store.ErrDuplicate) {
		s.writeError(w, r, fmt.Errorf("chat with this name %w", store.ErrDuplicate))
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.AddMember(r.Context(), created.ID, who.UserID); err != nil {
		s.writeError(w, r, fmt.Errorf("join new chat: %w", err))
		return
	}

	requestLogger(r, s.log).WithFields(logrus.Fields{
		"chat_id":  created.ID,
		"username": who.Username,
	}).Info("Chat created")
	writeJSON(w, http.StatusOK, toChatResponse(created))
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(chats, func(c store.Chat, _ int) chatResponse {
		return toChatResponse(c)
	}))
}

// handleAddUser adds an existing user to a chat. Any signed-in user may do so.
func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireIdentity(r); err != nil {
		s.writeError(w, r, err)
		return
	}
	room, err := parseChatID(r.PathValue("chat_id"), 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	username := r.PathValue("username")

	if _, err := s.store.GetChat(r.Context(), int64(room)); err != nil {
		s.writeError(w, r, wrapNotFound(err, "chat"))
		return
	}
	user, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		s.writeError(w, r, wrapNotFound(err, "user"))
		return
	}
	added, err := s.store.AddMember(r.Context(), int64(room), user.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !added {
		writeJSON(w, http.StatusOK, statusResponse{Status: "User already in chat"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "User added to chat"})
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s %w", what, store.ErrNotFound)
	}
	return err
}

// handleSendMessage posts through the same ingress WebSocket clients use.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if !s.limiters.allow(clientKey(r)) {
		requestLogger(r, s.log).Warn("Rate limit exceeded for message post")
		s.writeError(w, r, errRateLimited)
		return
	}
	var req sendMessageRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	who, err := s.identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msg, err := s.hub.ingress.Submit(r.Context(), chat.RoomID(req.ChatID), who, req.Content, req.IsAnonymous)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendMessageResponse{Status: "ok", ID: msg.ID, Timestamp: msg.CreatedAt.UTC()})
}

// handleMessages returns a chat's history oldest first.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	room, err := parseChatID(query.Get("chat_id"), 0)
	if err == nil && room == 0 {
		err = errInvalidChatID
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(query.Get("limit"), s.cfg.HistoryLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetChat(r.Context(), int64(room)); err != nil {
		s.writeError(w, r, wrapNotFound(err, "chat"))
		return
	}

	messages, err := s.store.ListMessages(r.Context(), int64(room), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(messages, func(m store.Message, _ int) messageResponse {
		return toMessageResponse(m)
	}))
}

// handleWebSocket upgrades to a socket subscribed to chat_id (default 1).
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	room, err := parseChatID(r.URL.Query().Get("chat_id"), chat.GeneralRoom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetChat(r.Context(), int64(room)); err != nil {
		s.writeError(w, r, wrapNotFound(err, "chat"))
		return
	}
	who, err := s.identity(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if !s.hub.enter() {
		s.writeError(w, r, chat.ErrRegistryClosed)
		return
	}
	feed, err := s.hub.registry.Open(room)
	if err != nil {
		s.hub.leave()
		s.writeError(w, r, err)
		return
	}

	log := requestLogger(r, s.log).WithFields(logrus.Fields{
		"chat_id": room,
		"sender":  chat.SenderLabel(who, false),
	})
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		log.WithError(err).Warn("WebSocket upgrade failed")
		feed.Close()
		s.hub.leave()
		return
	}

	log.Debug("WebSocket connected")
	newClient(conn, feed, s.hub, who, s, log).run()
}

// handleHealth reports liveness plus whether the store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		requestLogger(r, s.log).WithError(err).Warn("Store health check failed")
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, Clients: s.hub.registry.Total()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Clients: s.hub.registry.Total(),
		Rooms:   s.hub.registry.RoomCounts(),
	})
}
