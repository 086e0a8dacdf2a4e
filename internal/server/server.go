package server

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Server holds everything the HTTP handlers share. Build one with New.
type Server struct {
	cfg   config.Config
	log   *logrus.Logger
	store store.Store
	auth  *auth.Service
	hub   *Hub

	origins   *originPolicy
	upgrader  websocket.Upgrader
	validator *validator.Validate
	limiters  *clientLimiters
}

// New assembles the registry, ingress, hub and auth service around st.
func New(cfg config.Config, st store.Store, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	registry := chat.NewRegistry(chat.Options{
		MaxConnections:  cfg.MaxConnections,
		MailboxCapacity: cfg.MailboxCapacity,
		Logger:          log,
	})
	ingress := chat.NewIngress(st, registry, log)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)

	s := &Server{
		cfg:       cfg,
		log:       log,
		store:     st,
		auth:      auth.NewService(st, tokens, log),
		hub:       NewHub(registry, ingress, log),
		origins:   newOriginPolicy(cfg.AllowedOrigins, log),
		validator: newValidator(),
		limiters:  newClientLimiters(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Hub exposes the live side for shutdown.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return withRequestID(
		withRecovery(s.log,
			withAccessLog(s.log,
				withCORS(s.origins, s.Routes()))))
}
