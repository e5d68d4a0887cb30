package terminal

import (
	"context"
	"errors"
)

//go:generate mockgen -source=messenger.go -destination=mock_messenger.go -package=terminal

// MessageID identifies a message within a chat channel.
type MessageID string

// ErrMessageNotFound is returned by Messenger operations targeting a message
// that no longer exists (for example, deleted out-of-band by a user).
var ErrMessageNotFound = errors.New("message not found")

// Messenger is the chat platform boundary the sink registry delivers
// through. Implementations are expected to be safe for concurrent use.
type Messenger interface {
	// SendMessage posts a new message and returns its identity.
	SendMessage(ctx context.Context, channelID, text string) (MessageID, error)
	// EditMessage replaces the content of an existing message.
	EditMessage(ctx context.Context, channelID string, id MessageID, text string) error
	// FetchMessage returns the current content of a message.
	FetchMessage(ctx context.Context, channelID string, id MessageID) (string, error)
	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, channelID string, id MessageID) error
}
