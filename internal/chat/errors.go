package chat

import "errors"

var (
	// ErrNotFound is returned when the target room does not exist.
	ErrNotFound = errors.New("chat not found")
	// ErrForbidden is returned when the sender may not post to the room.
	ErrForbidden = errors.New("not allowed to post in this chat")
	// ErrInvalidContent is returned for empty or whitespace-only messages.
	ErrInvalidContent = errors.New("message content is empty")
	// ErrResourceExhausted is returned by Register when the connection cap is reached.
	ErrResourceExhausted = errors.New("too many live connections")
	// ErrRegistryClosed is returned by Register after CloseAll.
	ErrRegistryClosed = errors.New("registry is shut down")
	// ErrFeedClosed is returned by a feed once it has been asked to close.
	ErrFeedClosed = errors.New("feed closed")
	// ErrTransport wraps read and write failures on a single live connection.
	ErrTransport = errors.New("transport error")
)
