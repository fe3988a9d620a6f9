package publish

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/escrowdex/pkg/exchange"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) snapshot() ([]kafka.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...), w.closed
}

func entry(seq uint64, user string) exchange.LogEntry {
	return exchange.LogEntry{
		Seq:   seq,
		Event: "Deposit",
		Args:  map[string]string{"user": user, "amount": "1"},
	}
}

func TestPublisherDeliversInOrder(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for seq := uint64(1); seq <= 3; seq++ {
		p.Publish(ctx, entry(seq, "0x1111111111111111111111111111111111111111"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, _ := w.snapshot()
		if len(msgs) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out, got %d messages", len(msgs))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	msgs, closed := w.snapshot()
	if !closed {
		t.Error("writer should be closed after Run returns")
	}
	for i, msg := range msgs {
		var got exchange.LogEntry
		if err := json.Unmarshal(msg.Value, &got); err != nil {
			t.Fatalf("decode message %d: %v", i, err)
		}
		if got.Seq != uint64(i+1) {
			t.Errorf("message %d has seq %d", i, got.Seq)
		}
		if string(msg.Key) != "0x1111111111111111111111111111111111111111" {
			t.Errorf("message key = %s, want user address", msg.Key)
		}
	}
}

func TestPublisherDropsWhenFull(t *testing.T) {
	p := NewPublisher(&fakeWriter{}, 1, nil)

	p.Publish(context.Background(), entry(1, "a"))
	p.Publish(context.Background(), entry(2, "a"))

	if p.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", p.Dropped())
	}
}

func TestMessageKeyFallsBackToSeq(t *testing.T) {
	msg, err := toMessage(exchange.LogEntry{Seq: 9, Event: "Cancel", Args: map[string]string{}})
	if err != nil {
		t.Fatalf("toMessage: %v", err)
	}
	if string(msg.Key) != "9" {
		t.Errorf("key = %s, want 9", msg.Key)
	}
}
