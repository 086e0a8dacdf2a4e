package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logger"
	"github.com/Tyrowin/roomchat/internal/store"
)

func TestWithRequestID(t *testing.T) {
	var seen string
	h := withRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = requestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(requestIDHeader))

	// a well-formed id from the caller is kept
	incoming := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(requestIDHeader, incoming)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, incoming, seen)

	// anything else is replaced
	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set(requestIDHeader, "<script>")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "<script>", seen)
}

func TestWithRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithOutput(&buf, "debug", "json")

	h := withRequestID(withRecovery(log, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "Recovered from panic")
	assert.Contains(t, buf.String(), rec.Header().Get(requestIDHeader))
}

func TestWithAccessLog(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithOutput(&buf, "debug", "text")

	h := withAccessLog(log, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pot", http.NoBody))

	out := buf.String()
	assert.Contains(t, out, "status=418")
	assert.Contains(t, out, "bytes=15")
	assert.Contains(t, out, "path=/pot")
}

func TestStatusRecorder_ForwardsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec}
	require.NoError(t, http.NewResponseController(sr).Flush())
	assert.True(t, rec.Flushed)

	_, _, err := sr.Hijack()
	assert.Error(t, err, "recorder cannot be hijacked")
}

func TestWithCORS(t *testing.T) {
	policy := newOriginPolicy([]string{testOriginURL}, logger.Discard())
	called := false
	h := withCORS(policy, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	preflight := httptest.NewRequest(http.MethodOptions, "/send_message", http.NoBody)
	preflight.Header.Set("Origin", testOriginURL)
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, testOriginURL, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)

	foreign := httptest.NewRequest(http.MethodGet, "/chats/", http.NoBody)
	foreign.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, foreign)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, called)
}

func TestOriginPolicy(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})

	policy := newOriginPolicy([]string{" HTTP://LocalHost:8080 ", "not a url", ""}, log)
	assert.True(t, policy.allows("http://localhost:8080"))
	assert.False(t, policy.allows("http://localhost:9090"))
	assert.False(t, policy.allows(""))
	assert.False(t, policy.allows("::"))

	wildcard := newOriginPolicy([]string{"*"}, log)
	assert.True(t, wildcard.allows("https://anything.example"))
	assert.False(t, wildcard.allows("garbage"))

	req := httptest.NewRequest(http.MethodGet, "http://chat.example/ws", http.NoBody)
	req.Header.Set("Origin", "https://chat.example")
	assert.True(t, policy.checkOrigin(req), "same host is allowed")

	req.Header.Set("Origin", "https://other.example")
	assert.False(t, policy.checkOrigin(req))
}

func TestRateLimiter_Refills(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	rl := newRateLimiterAt(2, time.Second, clock)

	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow())

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow(), "half an interval restores one token")
	assert.False(t, rl.allow())

	now = now.Add(time.Hour)
	assert.True(t, rl.allow())
	assert.True(t, rl.allow())
	assert.False(t, rl.allow(), "tokens never exceed capacity")
}

func TestClientLimiters_PerKeyAndSweep(t *testing.T) {
	now := time.Unix(0, 0)
	limiters := newClientLimiters(1, time.Second)
	limiters.now = func() time.Time { return now }
	limiters.lastGC = now

	assert.True(t, limiters.allow("10.0.0.1"))
	assert.False(t, limiters.allow("10.0.0.1"))
	assert.True(t, limiters.allow("10.0.0.2"))
	assert.Equal(t, 2, limiters.size())

	now = now.Add(time.Minute)
	assert.True(t, limiters.allow("10.0.0.3"))
	assert.Equal(t, 1, limiters.size(), "idle buckets are swept")
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.RemoteAddr = "192.0.2.7:5555"
	assert.Equal(t, "192.0.2.7", clientKey(req))

	req.RemoteAddr = "pipe"
	assert.Equal(t, "pipe", clientKey(req))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: &http.MaxBytesError{Limit: 1}, want: http.StatusRequestEntityTooLarge},
		{err: &validationError{fields: map[string]string{"x": "required"}}, want: http.StatusUnprocessableEntity},
		{err: chat.ErrInvalidContent, want: http.StatusUnprocessableEntity},
		{err: fmt.Errorf("%w: eof", errMalformedBody), want: http.StatusBadRequest},
		{err: errInvalidChatID, want: http.StatusBadRequest},
		{err: auth.ErrUsernameTaken, want: http.StatusBadRequest},
		{err: auth.ErrInvalidCredentials, want: http.StatusBadRequest},
		{err: errAuthRequired, want: http.StatusUnauthorized},
		{err: fmt.Errorf("chat 9: %w", chat.ErrForbidden), want: http.StatusForbidden},
		{err: fmt.Errorf("chat 9: %w", chat.ErrNotFound), want: http.StatusNotFound},
		{err: store.ErrNotFound, want: http.StatusNotFound},
		{err: errRateLimited, want: http.StatusTooManyRequests},
		{err: chat.ErrResourceExhausted, want: http.StatusServiceUnavailable},
		{err: chat.ErrRegistryClosed, want: http.StatusServiceUnavailable},
		{err: errors.New("disk on fire"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("", chat.GeneralRoom)
	require.NoError(t, err)
	assert.Equal(t, chat.GeneralRoom, id)

	id, err = parseChatID("12", chat.GeneralRoom)
	require.NoError(t, err)
	assert.Equal(t, chat.RoomID(12), id)

	for _, raw := range []string{"0", "-3", "abc", "1.5"} {
		_, err := parseChatID(raw, chat.GeneralRoom)
		assert.ErrorIs(t, err, errInvalidChatID, raw)
	}
}
