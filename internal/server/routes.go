package server

import "net/http"

// Routes registers every endpoint on a fresh ServeMux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /anonymous", s.handleAnonymous)
	mux.HandleFunc("GET /current_user", s.handleCurrentUser)

	mux.HandleFunc("POST /chats/{$}", s.handleCreateChat)
	mux.HandleFunc("GET /chats/{$}", s.handleListChats)
	mux.HandleFunc("POST /chats/{chat_id}/add_user/{username}", s.handleAddUser)

	mux.HandleFunc("POST /send_message", s.handleSendMessage)
	mux.HandleFunc("GET /messages", s.handleMessages)

	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /{$}", s.handleTestPage)
	return mux
}
