package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/featuregate/internal/logger"
	"github.com/rafaeljc/featuregate/internal/observability"
)

// ErrSubscriptionClosed is returned by Subscription.Run when Redis closes the channel.
var ErrSubscriptionClosed = errors.New("change subscription closed")

// Notification tells other instances that a flag changed.
// It carries no flag data: receivers reload from the registry.
type Notification struct {
	// Origin is the instance that committed the change. Receivers skip their own.
	Origin  string    `json:"origin"`
	FlagID  string    `json:"flag_id"`
	Kind    string    `json:"kind"`
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}

// Publisher broadcasts flag changes.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}

// RedisNotifier publishes and receives Notifications over a Redis pub/sub channel.
// Delivery is at-most-once; the periodic resync covers lost messages.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

var _ Publisher = (*RedisNotifier)(nil)

// NewRedisNotifier creates a notifier bound to channel.
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if channel == "" {
		panic("notification channel cannot be empty")
	}
	return &RedisNotifier{client: client, channel: channel}
}

// Channel returns the pub/sub channel name.
func (n *RedisNotifier) Channel() string {
	return n.channel
}

// Publish sends n to every current subscriber.
func (n *RedisNotifier) Publish(ctx context.Context, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		observability.InvalidationsPublished.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		observability.InvalidationsPublished.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to publish notification for flag %q: %w", note.FlagID, err)
	}

	observability.InvalidationsPublished.WithLabelValues("success").Inc()
	return nil
}

// Subscribe opens the subscription and waits for Redis to confirm it,
// so no message published after Subscribe returns is missed.
func (n *RedisNotifier) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %q: %w", n.channel, err)
	}
	return &Subscription{pubsub: pubsub, channel: n.channel}, nil
}

// Subscription is a confirmed pub/sub subscription.
type Subscription struct {
	pubsub  *redis.PubSub
	channel string
}

// Run delivers decoded notifications to handle until ctx is done (returns nil)
// or the connection is lost (returns ErrSubscriptionClosed).
// Malformed payloads are logged and dropped.
func (s *Subscription) Run(ctx context.Context, handle func(context.Context, Notification)) error {
	log := logger.FromContext(ctx)
	messages := s.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return ErrSubscriptionClosed
			}

			note, err := Decode(msg.Payload)
			if err != nil {
				observability.InvalidationsReceived.WithLabelValues("malformed").Inc()
				log.Warn("dropping malformed change notification",
					slog.String("channel", s.channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			handle(ctx, note)
		}
	}
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

// Decode parses a notification payload.
func Decode(payload string) (Notification, error) {
	var note Notification
	if err := json.Unmarshal([]byte(payload), &note); err != nil {
		return Notification{}, fmt.Errorf("invalid notification payload: %w", err)
	}
	if note.Origin == "" {
		return Notification{}, errors.New("invalid notification payload: missing origin")
	}
	return note, nil
}
