// Package bus hands inbound chat messages from platform adapters to the dispatcher.
package bus

import (
	"log/slog"
	"sync"
	"time"

	"llmrelay/internal/domain"
)

const (
	defaultBufferSize     = 100
	defaultPublishTimeout = 10 * time.Second
)

// InMemoryBus is a buffered channel with a bounded wait on publish.
type InMemoryBus struct {
	inbound        chan domain.IncomingMessage
	publishTimeout time.Duration
	mu             sync.RWMutex
	closed         bool
	logger         *slog.Logger
}

func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &InMemoryBus{
		inbound:        make(chan domain.IncomingMessage, bufferSize),
		publishTimeout: defaultPublishTimeout,
		logger:         logger.With("component", "bus"),
	}
}

// Publish enqueues msg. When the buffer is full it waits up to the publish
// timeout and then drops the message. It reports whether msg was enqueued.
func (b *InMemoryBus) Publish(msg domain.IncomingMessage) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("publish on closed bus", "chat_id", msg.ChatID)
		return false
	}

	select {
	case b.inbound <- msg:
		return true
	default:
	}

	b.logger.Warn("inbound bus full, waiting", "chat_id", msg.ChatID, "sender_id", msg.SenderID)
	timer := time.NewTimer(b.publishTimeout)
	defer timer.Stop()
	select {
	case b.inbound <- msg:
		return true
	case <-timer.C:
		b.logger.Error("message dropped: bus full",
			"chat_id", msg.ChatID,
			"sender_id", msg.SenderID,
			"waited", b.publishTimeout,
		)
		return false
	}
}

// Messages is the receive side, closed by Close.
func (b *InMemoryBus) Messages() <-chan domain.IncomingMessage {
	return b.inbound
}

// Close stops accepting messages. Buffered messages stay readable.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
