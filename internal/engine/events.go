package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Event is one order lifecycle notification.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Event types published by the engine.
const (
	EventOrderCompleted = "order.completed"
	EventOrderFailed    = "order.failed"
	EventOrderRetrying  = "order.retrying"
)

// Broker fans engine events out to subscribers (the SSE stream).
type Broker interface {
	Subscribe() chan Event
	Unsubscribe(ch chan Event)
	Publish(evt Event)
}

// MemoryBroker is the in-process broker.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[chan Event]struct{}{}}
}

func (b *MemoryBroker) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *MemoryBroker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *MemoryBroker) Publish(evt Event) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

const redisEventChannel = "orders:events"

// RedisBroker fans events out over Redis pub/sub so streams work across
// replicas.
type RedisBroker struct {
	rdb *redis.Client
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb}
}

func (b *RedisBroker) Subscribe() chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, redisEventChannel)
	_, _ = ps.Receive(ctx)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(ch chan Event) {
	// the goroutine exits when the pubsub channel closes on connection loss
}

func (b *RedisBroker) Publish(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, redisEventChannel, data).Err()
}
