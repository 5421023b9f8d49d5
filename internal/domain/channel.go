package domain

import (
	"context"
	"errors"
)

// ErrFormattingRejected is returned (wrapped) by a Sender when the platform
// refuses a message because its rich-text markup could not be parsed.
var ErrFormattingRejected = errors.New("rich formatting rejected")

// Sender delivers text to a chat.
type Sender interface {
	Send(ctx context.Context, chatID, text string, opts SendOptions) error
}

// Chat is the outbound side of a chat platform as seen by the dispatcher.
type Chat interface {
	Sender
	SendTyping(ctx context.Context, chatID string) error
}

// Channel is a chat platform connection that publishes inbound messages.
type Channel interface {
	Chat
	Name() string
	Start(ctx context.Context, publish func(IncomingMessage)) error
}
