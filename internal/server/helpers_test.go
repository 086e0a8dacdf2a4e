package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/logger"
	"github.com/Tyrowin/roomchat/internal/store"
)

const testOriginURL = "http://localhost:8080"

func testConfig() config.Config {
	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.AllowedOrigins = []string{testOriginURL}
	cfg.SSERetry = 0
	return cfg
}

type testEnv struct {
	srv   *Server
	http  *httptest.Server
	store *store.Memory
}

// newTestEnv starts a server over a memory store that already holds the
// general chat. customize may adjust the config before the server is built.
func newTestEnv(t *testing.T, customize func(cfg *config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if customize != nil {
		customize(&cfg)
	}
	mem := store.NewMemory()
	require.NoError(t, mem.EnsureChat(context.Background(), 1, cfg.GeneralChatName))

	srv := New(cfg, mem, logger.Discard())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		ts.Close()
	})
	return &testEnv{srv: srv, http: ts, store: mem}
}

func (e *testEnv) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws?" + query
}

// do sends a JSON request, attaching token as a bearer credential when set.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// register creates an account and returns its token.
func (e *testEnv) register(t *testing.T, username string) string {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/register", "", credentialsRequest{Username: username, Password: "secret-pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[tokenResponse](t, resp).AccessToken
}

// createChat creates a chat owned by token's user and returns its id.
func (e *testEnv) createChat(t *testing.T, token, name string) int64 {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/chats/", token, createChatRequest{Name: name})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[chatResponse](t, resp).ID
}

// dial opens a WebSocket with an allowed Origin header.
func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialWithOrigin(e.wsURL(query), testOriginURL)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialWithOrigin(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	return dialer.Dial(url, headers)
}

type wireFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireMessage struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wireFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f wireFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readMessage skips non-message frames until a broadcast arrives.
func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	for {
		f := readFrame(t, conn)
		if f.Type != "message" {
			continue
		}
		var m wireMessage
		require.NoError(t, json.Unmarshal(f.Data, &m))
		return m
	}
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", raw)
}

// sseEventRecord is one parsed server-sent event.
type sseEventRecord struct {
	Event string
	ID    string
	Data  string
}

// sseReader parses an event stream line by line.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{scanner: bufio.NewScanner(r)}
}

// next returns the next event, skipping comments and retry hints.
func (r *sseReader) next(t *testing.T) sseEventRecord {
	t.Helper()
	var ev sseEventRecord
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if ev.Data != "" {
				return ev
			}
		case strings.HasPrefix(line, ":"), strings.HasPrefix(line, "retry:"):
		case strings.HasPrefix(line, "event: "):
			ev.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			ev.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			ev.Data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, r.scanner.Err())
	t.Fatal("event stream ended")
	return ev
}

// openEvents starts an SSE request; cancel ends it.
func (e *testEnv) openEvents(t *testing.T, query string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.http.URL+"/events?"+query, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		_ = resp.Body.Close()
	})
	return resp, cancel
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}
