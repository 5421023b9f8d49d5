// Package dispatch runs the per-message pipeline: match a trigger, ask the
// model, deliver the answer or a short error notice.
//
// Each message is an independent unit of work. Nothing is shared between
// dispatches except the goroutine-safe collaborators passed in Config.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"llmrelay/internal/domain"
	"llmrelay/internal/metrics"
	"llmrelay/internal/provider"
	"llmrelay/internal/reply"
	"llmrelay/internal/trigger"
)

const (
	EmptyPromptHint    = "Please provide a prompt after the trigger."
	errorReplyFormat   = "⚠️ Error talking to the model:\n%s"
	defaultConcurrency = 5
)

// Outcome is the terminal state of one dispatch.
type Outcome string

const (
	OutcomeIgnored        Outcome = "ignored"         // no trigger prefix
	OutcomeEmptyPrompt    Outcome = "empty_prompt"    // trigger without a prompt, hint sent
	OutcomeReplied        Outcome = "replied"         // model answer delivered
	OutcomeBackendFailed  Outcome = "backend_failed"  // inference failed, error notice sent
	OutcomeDeliveryFailed Outcome = "delivery_failed" // nothing could be delivered
)

type Config struct {
	Matcher   *trigger.Matcher
	Inference domain.Inferencer
	Chat      domain.Chat
	Logger    *slog.Logger

	// MaxConcurrent bounds the number of dispatches Run executes at once.
	MaxConcurrent int
	// EmptyReply replaces a blank model answer, which chat platforms refuse to send.
	EmptyReply string
	// MaxMessageLen is passed to the reply renderer.
	MaxMessageLen int
}

type Dispatcher struct {
	matcher     *trigger.Matcher
	inference   domain.Inferencer
	chat        domain.Chat
	renderer    *reply.Renderer
	logger      *slog.Logger
	concurrency int
	emptyReply  string
}

func New(cfg Config) *Dispatcher {
	if cfg.Matcher == nil {
		cfg.Matcher = trigger.New(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultConcurrency
	}
	if cfg.EmptyReply == "" {
		cfg.EmptyReply = provider.DefaultNoResponse
	}
	return &Dispatcher{
		matcher:     cfg.Matcher,
		inference:   cfg.Inference,
		chat:        cfg.Chat,
		renderer:    reply.New(cfg.Chat, reply.Options{MaxMessageLen: cfg.MaxMessageLen, Logger: cfg.Logger}),
		logger:      cfg.Logger.With("component", "dispatcher"),
		concurrency: cfg.MaxConcurrent,
		emptyReply:  cfg.EmptyReply,
	}
}

// Run dispatches messages from in until in is closed or ctx is done, with at
// most MaxConcurrent dispatches in flight. In-flight dispatches are detached
// from ctx cancellation and Run waits for them before returning.
func (d *Dispatcher) Run(ctx context.Context, in <-chan domain.IncomingMessage) error {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	work := context.WithoutCancel(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			level := slog.LevelInfo
			if len(in) > 0 {
				level = slog.LevelWarn
			}
			d.logger.Log(ctx, level, "dispatcher stopping, waiting for in-flight messages", "unprocessed", len(in))
			break loop
		case msg, ok := <-in:
			if !ok {
				d.logger.Info("inbound channel closed, dispatcher stopping")
				break loop
			}
			g.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						d.logger.Error("dispatch panic", "chat_id", msg.ChatID, "panic", r)
					}
				}()
				d.Dispatch(work, msg)
				return nil
			})
		}
	}

	return g.Wait()
}

// Dispatch handles a single message to completion and reports its outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, msg domain.IncomingMessage) Outcome {
	start := time.Now()
	log := d.logger.With("dispatch_id", uuid.NewString(), "chat_id", msg.ChatID)
	metrics.MessagesTotal.Inc()

	log.Info("message received",
		"user", msg.SenderName,
		"user_id", msg.SenderID,
		"text_len", len(msg.Text),
	)

	outcome := d.dispatch(ctx, log, msg)
	metrics.Outcome(string(outcome)).Inc()
	if outcome != OutcomeIgnored {
		log.Info("dispatch finished", "outcome", outcome, "duration", time.Since(start).Round(time.Millisecond))
	}
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, log *slog.Logger, msg domain.IncomingMessage) Outcome {
	match := d.matcher.Match(msg.Text)
	if !match.Matched {
		log.Debug("no trigger, ignoring message")
		return OutcomeIgnored
	}

	if match.Remainder == "" {
		if err := d.renderer.DeliverPlain(ctx, msg.ChatID, EmptyPromptHint); err != nil {
			log.Error("hint delivery failed", "err", err)
			return OutcomeDeliveryFailed
		}
		return OutcomeEmptyPrompt
	}

	log = log.With("trigger", match.Prefix)
	if err := d.chat.SendTyping(ctx, msg.ChatID); err != nil {
		log.Debug("typing indicator failed", "err", err)
	}

	answer, err := d.inference.Generate(ctx, match.Remainder)
	if err != nil {
		log.Error("inference failed", "err", err)
		notice := fmt.Sprintf(errorReplyFormat, err.Error())
		if derr := d.renderer.DeliverPlain(ctx, msg.ChatID, notice); derr != nil {
			log.Error("error notice delivery failed", "err", derr)
			return OutcomeDeliveryFailed
		}
		return OutcomeBackendFailed
	}

	if strings.TrimSpace(answer) == "" {
		answer = d.emptyReply
	}
	if err := d.renderer.Deliver(ctx, msg.ChatID, answer); err != nil {
		log.Error("reply delivery failed", "err", err)
		return OutcomeDeliveryFailed
	}
	return OutcomeReplied
}
