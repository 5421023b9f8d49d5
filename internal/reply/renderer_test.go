package reply

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"llmrelay/internal/domain"
)

type sendCall struct {
	chatID string
	text   string
	opts   domain.SendOptions
}

// fakeSender returns errs[i] for the i-th call and nil once errs is exhausted.
type fakeSender struct {
	mu    sync.Mutex
	calls []sendCall
	errs  []error
}

func (f *fakeSender) Send(ctx context.Context, chatID, text string, opts domain.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sendCall{chatID: chatID, text: text, opts: opts})
	if i := len(f.calls) - 1; i < len(f.errs) {
		return f.errs[i]
	}
	return nil
}

var errRejected = fmt.Errorf("telegram: Bad Request: can't parse entities: %w", domain.ErrFormattingRejected)

func TestDeliver_RichSucceeds(t *testing.T) {
	s := &fakeSender{}
	r := New(s, Options{})

	if err := r.Deliver(context.Background(), "42", "*bold* answer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.calls) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(s.calls))
	}
	want := sendCall{chatID: "42", text: "*bold* answer", opts: domain.SendOptions{Rich: true, DisableLinkPreview: true}}
	if s.calls[0] != want {
		t.Fatalf("got %+v, want %+v", s.calls[0], want)
	}
}

func TestDeliver_FallsBackToPlainOnRejection(t *testing.T) {
	s := &fakeSender{errs: []error{errRejected}}
	r := New(s, Options{})

	if err := r.Deliver(context.Background(), "7", "snake_case_name"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.calls) != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", len(s.calls))
	}
	plain := s.calls[1]
	if plain.opts.Rich {
		t.Fatal("second attempt must disable formatting")
	}
	if !plain.opts.DisableLinkPreview {
		t.Fatal("second attempt must still suppress link previews")
	}
	if plain.text != "snake_case_name" || plain.chatID != "7" {
		t.Fatalf("plain attempt must resend identical text, got %+v", plain)
	}
}

func TestDeliver_PlainFailurePropagates(t *testing.T) {
	plainErr := errors.New("network down")
	s := &fakeSender{errs: []error{errRejected, plainErr}}
	r := New(s, Options{})

	err := r.Deliver(context.Background(), "7", "x")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if !errors.Is(err, plainErr) {
		t.Fatalf("expected underlying plain error, got %v", err)
	}
	if len(s.calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(s.calls))
	}
}

func TestDeliver_OtherErrorsSkipFallback(t *testing.T) {
	netErr := errors.New("connection reset")
	s := &fakeSender{errs: []error{netErr}}
	r := New(s, Options{})

	err := r.Deliver(context.Background(), "7", "x")
	if !errors.Is(err, netErr) || !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.calls) != 1 {
		t.Fatalf("non-formatting errors must not trigger plain retry, got %d attempts", len(s.calls))
	}
}

func TestDeliver_ChunksLongText(t *testing.T) {
	s := &fakeSender{errs: []error{nil, errRejected}}
	r := New(s, Options{MaxMessageLen: 10})

	if err := r.Deliver(context.Background(), "1", "aaaaaaaaaabbbbbbbbbbcc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var texts []string
	for _, c := range s.calls {
		texts = append(texts, c.text)
	}
	want := []string{"aaaaaaaaaa", "bbbbbbbbbb", "bbbbbbbbbb", "cc"}
	if strings.Join(texts, "|") != strings.Join(want, "|") {
		t.Fatalf("got %v, want %v", texts, want)
	}
	if !s.calls[1].opts.Rich || s.calls[2].opts.Rich {
		t.Fatal("only the rejected chunk should be resent as plain text")
	}
}

func TestDeliverPlain(t *testing.T) {
	s := &fakeSender{}
	r := New(s, Options{})

	if err := r.DeliverPlain(context.Background(), "1", "⚠️ boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.calls) != 1 || s.calls[0].opts.Rich || !s.calls[0].opts.DisableLinkPreview {
		t.Fatalf("unexpected calls %+v", s.calls)
	}

	s = &fakeSender{errs: []error{errors.New("boom")}}
	if err := New(s, Options{}).DeliverPlain(context.Background(), "1", "x"); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
}

func TestSplit(t *testing.T) {
	if got := Split("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("unexpected %v", got)
	}
	if got := Split(strings.Repeat("x", 50), -1); len(got) != 1 {
		t.Fatalf("negative max should disable splitting, got %d chunks", len(got))
	}

	got := Split("line one\nline two", 12)
	if len(got) != 2 || got[0] != "line one" || got[1] != "\nline two" {
		t.Fatalf("expected newline cut, got %q", got)
	}

	text := strings.Repeat("é", 20) // 2 bytes each
	for _, c := range Split(text, 7) {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %q splits a rune", c)
		}
		if len(c) > 7 {
			t.Fatalf("chunk %q exceeds limit", c)
		}
	}
	if strings.Join(Split(text, 7), "") != text {
		t.Fatal("chunks must reassemble to the original text")
	}
}

func TestSplit_TinyLimitTerminates(t *testing.T) {
	done := make(chan []string, 1)
	go func() { done <- Split("\n\nab", 1) }()

	select {
	case got := <-done:
		if strings.Join(got, "") != "\n\nab" {
			t.Fatalf("chunks must reassemble to the original text, got %q", got)
		}
		for _, c := range got {
			if c == "" {
				t.Fatalf("empty chunk in %q", got)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Split did not return")
	}
}

func TestDeliver_SkipsWhitespaceOnlyChunks(t *testing.T) {
	s := &fakeSender{}
	r := New(s, Options{MaxMessageLen: 4})

	text := "abc\n    \n\ndef"
	if err := r.Deliver(context.Background(), "1", text); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.calls) == 0 {
		t.Fatal("expected sends")
	}
	var sentText strings.Builder
	for _, c := range s.calls {
		if strings.TrimSpace(c.text) == "" {
			t.Fatalf("whitespace-only chunk sent: %q", c.text)
		}
		sentText.WriteString(c.text)
	}
	if got := strings.Join(strings.Fields(sentText.String()), " "); got != "abc def" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestDeliver_LogsFallbackWarning(t *testing.T) {
	var buf bytes.Buffer
	s := &fakeSender{errs: []error{errRejected}}
	r := New(s, Options{Logger: slog.New(slog.NewTextHandler(&buf, nil))})

	if err := r.Deliver(context.Background(), "9", "_oops"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"level=WARN", `msg="markdown rejected, falling back to plain text"`, "chat_id=9", "can't parse entities"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}
