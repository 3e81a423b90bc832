// Package queue is the Message Bus: one bounded, TTL-evicting queue per entity, with
// optional at-rest AEAD encryption of payload fields. Each entity's queue is created lazily
// behind a shared mutex, and a cancellable background loop sweeps expired items on a ticker.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arachne-bridge/arachne/internal/cryptobox"
)

// ErrKeyMissing is returned by Drain when a queue holds encrypted items but no key was given.
var ErrKeyMissing = errors.New("queue: key missing")

const (
	DefaultTTL         = 10 * time.Minute
	DefaultMaxLen       = 200
	DefaultSweepInterval = 30 * time.Second
)

// Message is one queued item. Sealed is non-nil when the item was pushed with an encryption
// key; in that form Content, AuthorName, and ChannelName are empty and must be recovered via
// Open with the same key.
type Message struct {
	MessageID   string
	ChannelID   string
	ChannelName string
	ServerID    string
	AuthorID    string
	AuthorName  string
	Content     string
	Timestamp   time.Time
	Addressed   bool
	Triggered   bool
	ExpiresAt   time.Time

	Sealed *cryptobox.Sealed
}

type entityQueue struct {
	items []Message
}

// Bus is the Message Bus: one queue per entity id, TTL eviction, bounded length.
type Bus struct {
	mu     sync.Mutex
	queues map[string]*entityQueue

	ttl           time.Duration
	maxLen        int
	sweepInterval time.Duration

	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Bus with the given policy. Zero values fall back to the defaults
// (10 minute TTL, 200-item cap, 30 second sweep).
func New(ttl time.Duration, maxLen int, sweepInterval time.Duration, logger *slog.Logger) *Bus {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queues:        make(map[string]*entityQueue),
		ttl:           ttl,
		maxLen:        maxLen,
		sweepInterval: sweepInterval,
		logger:        logger,
	}
}

// Start launches the TTL sweep loop. Safe to call once; the loop stops when ctx is cancelled
// or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sweep()
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit. Safe to call once; a nil cancel
// (Start never called) is a no-op.
func (b *Bus) Stop() {
	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
}

func (b *Bus) sweep() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, q := range b.queues {
		kept := q.items[:0]
		for _, m := range q.items {
			if m.ExpiresAt.After(now) {
				kept = append(kept, m)
			}
		}
		q.items = kept
		if len(q.items) == 0 {
			delete(b.queues, id)
		}
	}
}

// Push appends msg to entityID's queue, sealing its payload fields with key if key is
// non-nil. On overflow the oldest item is dropped.
func (b *Bus) Push(entityID string, msg Message, key *[cryptobox.KeySize]byte) error {
	msg.ExpiresAt = time.Now().Add(b.ttl)

	if key != nil {
		sealed, err := sealMessage(*key, entityID, &msg)
		if err != nil {
			return err
		}
		msg.Sealed = sealed
		msg.Content, msg.AuthorName, msg.ChannelName = "", "", ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[entityID]
	if !ok {
		q = &entityQueue{}
		b.queues[entityID] = q
	}
	q.items = append(q.items, msg)
	if len(q.items) > b.maxLen {
		q.items = q.items[len(q.items)-b.maxLen:]
	}
	return nil
}

// Drain returns every current item for entityID in FIFO order and empties the queue. If key
// is nil but the queue holds encrypted items, ErrKeyMissing is returned before any items are
// removed. Items that fail decryption are discarded and logged, not returned.
func (b *Bus) Drain(entityID string, key *[cryptobox.KeySize]byte) ([]Message, error) {
	b.mu.Lock()
	q, ok := b.queues[entityID]
	if !ok {
		b.mu.Unlock()
		return nil, nil
	}
	items := q.items
	if key == nil {
		for _, m := range items {
			if m.Sealed != nil {
				b.mu.Unlock()
				return nil, ErrKeyMissing
			}
		}
	}
	delete(b.queues, entityID)
	b.mu.Unlock()

	out := make([]Message, 0, len(items))
	for _, m := range items {
		if m.Sealed == nil {
			out = append(out, m)
			continue
		}
		if key == nil {
			return nil, ErrKeyMissing
		}
		opened, err := openMessage(*key, entityID, &m)
		if err != nil {
			b.logger.Warn("queue.decrypt_failed", "entity_id", entityID, "message_id", m.MessageID, "error", err)
			continue
		}
		out = append(out, *opened)
	}
	return out, nil
}

// Peek returns up to limit current items for entityID without removing them or decrypting
// them. A non-destructive preview.
func (b *Bus) Peek(entityID string, limit int) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[entityID]
	if !ok {
		return nil
	}
	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Message, n)
	copy(out, q.items[:n])
	return out
}
