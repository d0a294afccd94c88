package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"tle_zone_contest/internal/domain/model"
	"tle_zone_contest/internal/platform/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type envelope struct {
	UserID       string          `json:"userId"`
	Notification json.RawMessage `json:"notification"`
}

// RedisNotifier fans notifications out over a Redis channel so a callback
// handled on one instance reaches a user connected to any instance.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	hub     *Hub
}

func NewRedisNotifier(rdb *redis.Client, channel string, hub *Hub) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel, hub: hub}
}

func (n *RedisNotifier) Push(ctx context.Context, userID string, notification model.Notification) error {
	body, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	msg, err := json.Marshal(envelope{UserID: userID, Notification: body})
	if err != nil {
		return fmt.Errorf("failed to marshal notification envelope: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Run forwards channel messages to the local hub until ctx is done.
func (n *RedisNotifier) Run(ctx context.Context) error {
	sub := n.rdb.Subscribe(ctx, n.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.channel, err)
	}
	logger.Info(ctx, "notification fan-out subscribed", zap.String("channel", n.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn(ctx, "discarding malformed notification", zap.Error(err))
				continue
			}
			n.hub.Deliver(env.UserID, env.Notification)
		}
	}
}
