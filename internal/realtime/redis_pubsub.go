package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/castroom/backend/internal/session"
)

const (
	channelPrefix = "castroom:"
	publishTTL    = 5 * time.Second
)

// RedisPubSub relays room broadcasts between server instances over Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates a Redis pub/sub bridge for room events.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	return &RedisPubSub{client: client, logger: logger}
}

// ChannelFor returns the Redis channel carrying room's broadcasts.
func ChannelFor(room session.RoomID) string {
	return channelPrefix + string(room)
}

// PublishRoomEvent publishes msg to the room's Redis channel.
func (r *RedisPubSub) PublishRoomEvent(room session.RoomID, msg RoomMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTTL)
	defer cancel()
	return r.client.Publish(ctx, ChannelFor(room), body).Err()
}

// SubscribeRoom subscribes to a room's Redis channel and calls handler for each message.
// Returns a cancel function to stop the subscription.
func (r *RedisPubSub) SubscribeRoom(room session.RoomID, handler func(msg RoomMessage)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, ChannelFor(room))
	if _, err = pubsub.Receive(ctx); err != nil {
		cancelCtx()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", room, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg RoomMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					r.logger.Debug("bad relay message", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				handler(msg)
			}
		}
	}()
	return cancelCtx, nil
}
