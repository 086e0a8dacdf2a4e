package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

const maxBodyBytes = 64 << 10

var (
	errMalformedBody = errors.New("malformed JSON body")
	errInvalidChatID = errors.New("chat_id must be a positive integer")
	errInvalidLimit  = errors.New("limit must be a positive integer")
	errAuthRequired  = errors.New("authentication required")
	errRateLimited   = errors.New("rate limit exceeded")
)

// validationError wraps validator failures so they can be rendered per field.
type validationError struct {
	fields map[string]string
}

func (e *validationError) Error() string {
	parts := make([]string, 0, len(e.fields))
	for _, field := range slices.Sorted(maps.Keys(e.fields)) {
		parts = append(parts, field+": "+e.fields[field])
	}
	return "invalid request: " + strings.Join(parts, ", ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Server) validate(v any) error {
	err := s.validator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			fields[fe.Field()] = fe.Tag() + "=" + fe.Param()
		} else {
			fields[fe.Field()] = fe.Tag()
		}
	}
	return &validationError{fields: fields}
}

// decodeJSON reads a size-limited body into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return tooLarge
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errMalformedBody)
		}
		return fmt.Errorf("%w: %v", errMalformedBody, err)
	}
	return s.validate(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		tooLarge *http.MaxBytesError
		invalid  *validationError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &invalid), errors.Is(err, chat.ErrInvalidContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errMalformedBody), errors.Is(err, errInvalidChatID), errors.Is(err, errInvalidLimit):
		return http.StatusBadRequest
	case errors.Is(err, errAuthRequired):
		return http.StatusUnauthorized
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, store.ErrDuplicate):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrResourceExhausted), errors.Is(err, chat.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status statusFor picks. Internal errors
// are logged and replaced with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Detail: err.Error()}

	var invalid *validationError
	if errors.As(err, &invalid) {
		resp = errorResponse{Detail: "validation failed", Fields: invalid.fields}
	}
	if status == http.StatusInternalServerError {
		requestLogger(r, s.log).WithError(err).Error("Request failed")
		resp.Detail = http.StatusText(status)
	}
	writeJSON(w, status, resp)
}

// parseLimit reads an optional positive page size, falling back to def.
func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errInvalidLimit
	}
	return n, nil
}

// parseChatID reads a positive chat id, falling back to def when raw is empty.
func parseChatID(raw string, def chat.RoomID) (chat.RoomID, error) {
	if raw == "" {
		return def, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidChatID
	}
	return chat.RoomID(id), nil
}
