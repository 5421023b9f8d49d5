package domain

import "time"

// IncomingMessage is a single text message delivered by a chat platform.
// It is owned by the dispatch that handles it and never shared.
type IncomingMessage struct {
	MessageID  string
	ChatID     string
	SenderID   string
	SenderName string
	Text       string
	Timestamp  time.Time
}

// SendOptions controls how a chat platform renders an outgoing message.
type SendOptions struct {
	Rich               bool // platform markup (bold, italic, code)
	DisableLinkPreview bool
}
