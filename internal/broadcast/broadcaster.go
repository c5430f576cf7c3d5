package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/taskora/taskora-backend/internal/presence"
	"github.com/taskora/taskora-backend/internal/session"
	"github.com/taskora/taskora-backend/internal/shared"
	"github.com/redis/go-redis/v9"
)

const relayChannel = "taskora:broadcast"

// Broadcaster delivers events to privacy-scoped recipient sets, never
// globally. Local connections receive through the registry; peer instances
// receive through the redis relay. Delivery is best-effort throughout and
// never blocks or fails the action that triggered it.
type Broadcaster struct {
	registry *session.Registry
	audience *Audience
	redis    *redis.Client
	logger   *slog.Logger
	origin   string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewBroadcaster(registry *session.Registry, audience *Audience, redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		audience: audience,
		redis:    redisClient,
		logger:   logger.With("component", "broadcaster"),
		origin:   shared.NewID("node_"),
	}
}

// DeliverToUser enqueues the event on every local connection of the user and
// relays it for peer instances. Per-recipient ordering follows each
// connection's send queue; there is no cross-recipient guarantee.
func (b *Broadcaster) DeliverToUser(userID string, event *Event) {
	b.registry.Deliver(userID, event)
	b.relay(userID, event)
}

// BroadcastPresence fans a presence snapshot out to the subject's audience.
// The snapshot has already been privacy-scoped by the state machine.
func (b *Broadcaster) BroadcastPresence(ctx context.Context, snap *presence.Snapshot) {
	event := &Event{Type: EventPresenceUpdate, Payload: snap}
	for _, recipientID := range b.audience.Resolve(ctx, snap.UserID) {
		b.DeliverToUser(recipientID, event)
	}
}

// BroadcastCustomStatus announces an explicit status change, custom message
// included, to the subject's audience.
func (b *Broadcaster) BroadcastCustomStatus(ctx context.Context, snap *presence.Snapshot) {
	event := &Event{Type: EventCustomStatus, Payload: snap}
	for _, recipientID := range b.audience.Resolve(ctx, snap.UserID) {
		b.DeliverToUser(recipientID, event)
	}
}

// BroadcastTyping delivers a typing indicator to one recipient's private
// channel. No acknowledgement, no error surface.
func (b *Broadcaster) BroadcastTyping(subjectID, recipientID string, isTyping bool) {
	b.DeliverToUser(recipientID, &Event{
		Type: EventUserTyping,
		Payload: &TypingPayload{
			UserID:    subjectID,
			IsTyping:  isTyping,
			Timestamp: time.Now(),
		},
	})
}

func (b *Broadcaster) relay(recipientID string, event *Event) {
	data, err := json.Marshal(&relayEnvelope{
		Origin:      b.origin,
		RecipientID: recipientID,
		Event:       event,
	})
	if err != nil {
		b.logger.Error("relay marshal failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.redis.Publish(ctx, relayChannel, data).Err(); err != nil {
		b.logger.Warn("relay publish failed", "error", err)
	}
}

// StartRelay subscribes to the peer channel and delivers relayed events to
// local connections. Events published by this instance are skipped; they were
// already delivered locally.
func (b *Broadcaster) StartRelay() {
	ctx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	sub := b.redis.Subscribe(ctx, relayChannel)

	go func() {
		defer close(done)
		defer sub.Close()

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("relay receive failed", "error", err)
				continue
			}

			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Error("relay unmarshal failed", "error", err)
				continue
			}
			if env.Origin == b.origin || env.Event == nil {
				continue
			}
			b.registry.Deliver(env.RecipientID, env.Event)
		}
	}()
}

func (b *Broadcaster) StopRelay() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
