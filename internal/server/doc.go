// Package server is the HTTP face of roomchat: the JSON API, the SSE and
// WebSocket transports, and the Hub that tracks their goroutines so a
// shutdown can close every live connection and wait for it.
//
// Each live connection owns one chat.Feed. The SSE handler and the WebSocket
// write pump are the only writers of their connection; posts from either
// transport and from POST /send_message go through the same chat.Ingress.
package server
