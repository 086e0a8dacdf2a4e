package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/roomchat/internal/chat"
)

var keepAliveFrame = []byte(": keepalive\n\n")

// sseEvent renders p in event-stream framing. Connected and error payloads
// are named events; messages carry their store id so clients can resume.
func sseEvent(p *chat.Payload) []byte {
	var buf bytes.Buffer
	switch p.Kind() {
	case chat.KindMessage:
		buf.WriteString("id: ")
		buf.WriteString(strconv.FormatInt(p.ID(), 10))
		buf.WriteByte('\n')
	default:
		buf.WriteString("event: ")
		buf.WriteString(string(p.Kind()))
		buf.WriteByte('\n')
	}
	// compact JSON never spans lines
	buf.WriteString("data: ")
	buf.Write(p.Data())
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// handleEvents streams a room's broadcasts as server-sent events until the
// client goes away or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	room, err := parseChatID(r.URL.Query().Get("chat_id"), chat.GeneralRoom)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetChat(r.Context(), int64(room)); err != nil {
		s.writeError(w, r, wrapNotFound(err, "chat"))
		return
	}

	if !s.hub.enter() {
		s.writeError(w, r, chat.ErrRegistryClosed)
		return
	}
	defer s.hub.leave()

	feed, err := s.hub.registry.Open(room)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer feed.Close()

	log := requestLogger(r, s.log).WithField("chat_id", room)
	rc := http.NewResponseController(w)
	// the stream outlives the server's write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.WithError(err).Debug("Could not clear write deadline")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if s.cfg.SSERetry > 0 {
		if _, err := fmt.Fprintf(w, "retry: %d\n\n", s.cfg.SSERetry.Milliseconds()); err != nil {
			log.WithError(fmt.Errorf("%w: %w", chat.ErrTransport, err)).Debug("SSE write failed")
			return
		}
	}
	if err := rc.Flush(); err != nil {
		log.WithError(fmt.Errorf("%w: %w", chat.ErrTransport, err)).Warn("SSE stream cannot flush")
		return
	}

	log.Debug("SSE stream opened")
	reason := s.streamEvents(w, r, rc, feed)
	log.WithField("reason", reason).Debug("SSE stream closed")
}

// streamEvents runs the write loop and reports why it ended.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, rc *http.ResponseController, feed *chat.Feed) string {
	keepAlive := time.NewTicker(s.cfg.SSEKeepAlive)
	defer keepAlive.Stop()

	write := func(frame []byte) bool {
		if _, err := w.Write(frame); err != nil {
			s.logStreamError(r, feed, err)
			return false
		}
		if err := rc.Flush(); err != nil {
			s.logStreamError(r, feed, err)
			return false
		}
		return true
	}

	for {
		select {
		case <-r.Context().Done():
			return "client disconnected"
		case <-keepAlive.C:
			if !write(keepAliveFrame) {
				return "write failed"
			}
		case <-feed.Ready():
			for {
				p, err := feed.Poll()
				if errors.Is(err, chat.ErrFeedClosed) {
					return "server closing"
				}
				if p == nil {
					break
				}
				if !write(sseEvent(p)) {
					return "write failed"
				}
				keepAlive.Reset(s.cfg.SSEKeepAlive)
			}
		}
	}
}

func (s *Server) logStreamError(r *http.Request, feed *chat.Feed, err error) {
	requestLogger(r, s.log).WithFields(logrus.Fields{
		"chat_id": feed.Room(),
	}).WithError(fmt.Errorf("%w: %w", chat.ErrTransport, err)).Debug("SSE write failed")
}
