// README: Status-change fan-out: bus contract, redis pub/sub implementation, in-memory double.
package updates

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// StatusEvent is the lightweight payload published on every ledger append.
type StatusEvent struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Action  string `json:"action"`
}

// Bus is the process-wide change-notification channel. Publish is
// at-most-once and best-effort: implementations swallow delivery failures.
type Bus interface {
	Publish(ctx context.Context, e StatusEvent)
}

const channel = "shinua:updates"

// RedisBus fans events out over a redis pub/sub channel.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, e StatusEvent) {
	payload, err := json.Marshal(e)
	if err != nil {
		slog.Warn("updates: marshal event", "err", err)
		return
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		slog.Warn("updates: publish failed", "err", err, "action", e.Action)
	}
}

// Subscribe returns a channel of events and a cancel func. Subscribers must
// tolerate missed events; there is no replay.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan StatusEvent, func()) {
	sub := b.client.Subscribe(ctx, channel)
	out := make(chan StatusEvent)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var e StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				slog.Warn("updates: bad event payload", "err", err)
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}

// MemoryBus captures published events for tests.
type MemoryBus struct {
	mu     sync.Mutex
	events []StatusEvent
}

func NewMemoryBus() *MemoryBus { return &MemoryBus{} }

func (b *MemoryBus) Publish(_ context.Context, e StatusEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *MemoryBus) Events() []StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]StatusEvent, len(b.events))
	copy(out, b.events)
	return out
}
