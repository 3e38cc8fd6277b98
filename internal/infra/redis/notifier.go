package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"codeclash-score-service/internal/app"
	"codeclash-score-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notifier publishes change events on a Redis channel so every instance can
// fan them out to its own subscribers. Run forwards received events into the
// local hub; Publish never delivers locally on its own.
type Notifier struct {
	client  *redis.Client
	channel string
	hub     *app.Hub
	logger  *zap.Logger
}

func NewNotifier(client *redis.Client, channel string, hub *app.Hub, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{client: client, channel: channel, hub: hub, logger: logger}
}

func (n *Notifier) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode change event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Run blocks until ctx is done, relaying channel messages to the hub.
// ready, if non-nil, is closed once the subscription is confirmed.
func (n *Notifier) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", n.channel, classify(err))
	}
	if ready != nil {
		close(ready)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var ev domain.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				n.logger.Warn("drop malformed change event", zap.String("channel", n.channel), zap.Error(err))
				continue
			}
			_ = n.hub.Publish(ctx, ev)
		}
	}
}
