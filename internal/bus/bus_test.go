package bus

import (
	"log/slog"
	"testing"
	"time"

	"llmrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPublishAndReceive(t *testing.T) {
	b := New(2, testLogger())
	if !b.Publish(domain.IncomingMessage{ChatID: "1", Text: "a"}) {
		t.Fatal("publish should succeed")
	}
	msg := <-b.Messages()
	if msg.ChatID != "1" || msg.Text != "a" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestPublish_FullBufferDrops(t *testing.T) {
	b := New(1, testLogger())
	b.publishTimeout = 20 * time.Millisecond

	b.Publish(domain.IncomingMessage{Text: "first"})
	start := time.Now()
	if b.Publish(domain.IncomingMessage{Text: "second"}) {
		t.Fatal("second publish should be dropped when buffer stays full")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("publish should wait for the timeout before dropping")
	}
}

func TestPublish_WaitsForSpace(t *testing.T) {
	b := New(1, testLogger())
	b.Publish(domain.IncomingMessage{Text: "first"})

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-b.Messages()
	}()
	if !b.Publish(domain.IncomingMessage{Text: "second"}) {
		t.Fatal("publish should succeed once a slot frees up")
	}
}

func TestClose(t *testing.T) {
	b := New(2, testLogger())
	b.Publish(domain.IncomingMessage{Text: "buffered"})
	b.Close()
	b.Close() // idempotent

	if b.Publish(domain.IncomingMessage{Text: "late"}) {
		t.Fatal("publish after close must fail")
	}
	if msg, ok := <-b.Messages(); !ok || msg.Text != "buffered" {
		t.Fatal("buffered message should survive close")
	}
	if _, ok := <-b.Messages(); ok {
		t.Fatal("channel should be closed")
	}
}
