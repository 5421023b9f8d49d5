// Package reply delivers model output to a chat, falling back to plain
// text when the platform rejects the rich-text payload.
package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"llmrelay/internal/domain"
	"llmrelay/internal/metrics"
)

// DefaultMaxMessageLen stays under Telegram's 4096 character limit.
const DefaultMaxMessageLen = 4000

// ErrDeliveryFailed wraps the error of a reply that could not be delivered
// in any format.
var ErrDeliveryFailed = errors.New("reply delivery failed")

type Options struct {
	MaxMessageLen int // chunk size in bytes; DefaultMaxMessageLen when zero, no splitting when negative
	Logger        *slog.Logger
}

// Renderer is stateless apart from its configuration and safe for concurrent use.
type Renderer struct {
	sender domain.Sender
	maxLen int
	logger *slog.Logger
}

func New(sender domain.Sender, opts Options) *Renderer {
	if opts.MaxMessageLen == 0 {
		opts.MaxMessageLen = DefaultMaxMessageLen
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Renderer{
		sender: sender,
		maxLen: opts.MaxMessageLen,
		logger: opts.Logger.With("component", "reply"),
	}
}

// Deliver sends text with rich formatting, resending a chunk as plain text
// if the platform rejects its markup. It stops at the first chunk that
// cannot be delivered either way.
func (r *Renderer) Deliver(ctx context.Context, chatID, text string) error {
	for _, chunk := range r.chunks(text) {
		if err := r.deliverChunk(ctx, chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// DeliverPlain sends text without markup. Used for hints and error notices,
// which may quote arbitrary error text.
func (r *Renderer) DeliverPlain(ctx context.Context, chatID, text string) error {
	for _, chunk := range r.chunks(text) {
		if err := r.sender.Send(ctx, chatID, chunk, domain.SendOptions{DisableLinkPreview: true}); err != nil {
			return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
	}
	return nil
}

// chunks splits text and drops whitespace-only pieces, which Telegram refuses.
// A single chunk is always kept so the sender reports the problem itself.
func (r *Renderer) chunks(text string) []string {
	parts := Split(text, r.maxLen)
	if len(parts) == 1 {
		return parts
	}
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *Renderer) deliverChunk(ctx context.Context, chatID, text string) error {
	err := r.sender.Send(ctx, chatID, text, domain.SendOptions{Rich: true, DisableLinkPreview: true})
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrFormattingRejected) {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	r.logger.Warn("markdown rejected, falling back to plain text", "chat_id", chatID, "err", err)
	metrics.DeliveryFallbacks.Inc()

	if err := r.sender.Send(ctx, chatID, text, domain.SendOptions{DisableLinkPreview: true}); err != nil {
		return fmt.Errorf("%w: plain text: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// Split cuts text into chunks of at most maxLen bytes, preferring a newline
// in the second half of each window and never splitting a UTF-8 sequence.
// maxLen <= 0 disables splitting.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxLen {
		cut := strings.LastIndex(text[:maxLen], "\n")
		if cut <= 0 || cut < maxLen/2 {
			cut = maxLen
			for cut > 0 && !isRuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
