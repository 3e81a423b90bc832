package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arachne-bridge/arachne/internal/cryptobox"
)

func TestPushDrainCleartext(t *testing.T) {
	b := New(DefaultTTL, DefaultMaxLen, DefaultSweepInterval, nil)

	msg := Message{MessageID: "m1", ChannelID: "c1", Content: "hello", Timestamp: time.Now()}
	if err := b.Push("entity-1", msg, nil); err != nil {
		t.Fatalf("Push: %v", err)
	}

	out, err := b.Drain("entity-1", nil)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(out) != 1 || out[0].Content != "hello" {
		t.Fatalf("Drain returned %+v", out)
	}

	out, err = b.Drain("entity-1", nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("Drain on empty queue = %+v, %v", out, err)
	}
}

func TestPushDrainEncrypted(t *testing.T) {
	b := New(DefaultTTL, DefaultMaxLen, DefaultSweepInterval, nil)
	key, err := cryptobox.DeriveKey("api-key")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}

	msg := Message{MessageID: "m1", ChannelID: "c1", Content: "secret", AuthorName: "alice", Timestamp: time.Now()}
	if err := b.Push("entity-1", msg, &key); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if _, err := b.Drain("entity-1", nil); !errors.Is(err, ErrKeyMissing) {
		t.Fatalf("Drain without key = %v, want ErrKeyMissing", err)
	}
}

func TestDrainDecryptsWithCorrectKey(t *testing.T) {
	b := New(DefaultTTL, DefaultMaxLen, DefaultSweepInterval, nil)
	key, _ := cryptobox.DeriveKey("api-key")

	msg := Message{MessageID: "m1", ChannelID: "c1", Content: "secret", AuthorName: "alice", Timestamp: time.Now()}
	if err := b.Push("entity-1", msg, &key); err != nil {
		t.Fatalf("Push: %v", err)
	}

	out, err := b.Drain("entity-1", &key)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(out) != 1 || out[0].Content != "secret" || out[0].AuthorName != "alice" {
		t.Fatalf("Drain returned %+v", out)
	}
	if out[0].Sealed != nil {
		t.Fatal("opened message still carries Sealed payload")
	}
}

func TestBoundedLengthDropsOldest(t *testing.T) {
	b := New(DefaultTTL, 3, DefaultSweepInterval, nil)
	for i := 0; i < 5; i++ {
		msg := Message{MessageID: string(rune('a' + i)), Timestamp: time.Now()}
		if err := b.Push("entity-1", msg, nil); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	out, err := b.Drain("entity-1", nil)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	if out[0].MessageID != "c" || out[2].MessageID != "e" {
		t.Fatalf("expected oldest two dropped, got %+v", out)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	b := New(20*time.Millisecond, DefaultMaxLen, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	if err := b.Push("entity-1", Message{MessageID: "m1", Timestamp: time.Now()}, nil); err != nil {
		t.Fatalf("Push: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(b.Peek("entity-1", 0)) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expired item was never swept")
}

func TestPeekIsNonDestructive(t *testing.T) {
	b := New(DefaultTTL, DefaultMaxLen, DefaultSweepInterval, nil)
	if err := b.Push("entity-1", Message{MessageID: "m1", Timestamp: time.Now()}, nil); err != nil {
		t.Fatalf("Push: %v", err)
	}

	first := b.Peek("entity-1", 0)
	second := b.Peek("entity-1", 0)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Peek results: %+v, %+v", first, second)
	}
}
