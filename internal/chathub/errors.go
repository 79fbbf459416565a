package chathub

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable wraps every failure reported by the document store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStatusWriteFailed marks a read-status write that did not complete.
	// It is logged, never returned to the user.
	ErrStatusWriteFailed = errors.New("status write failed")
	// ErrConversationClosed is returned by operations on a closed conversation.
	ErrConversationClosed = errors.New("conversation closed")
	// ErrInvalidMessage is returned for composer input that fails validation.
	ErrInvalidMessage = errors.New("invalid message")
)

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
