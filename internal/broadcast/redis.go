package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

const channelPrefix = "events:"

// RedisHub relays events through Redis Pub/Sub so every server instance
// sees the events committed by the others.
type RedisHub struct {
	logger *slog.Logger
	client *redis.Client
}

func NewRedisHub(logger *slog.Logger, client *redis.Client) *RedisHub {
	return &RedisHub{
		logger: logger.With("component", "redis-hub"),
		client: client,
	}
}

func (that *RedisHub) Publish(ctx context.Context, topic string, event entity.Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	if err = that.client.Publish(ctx, channelPrefix+topic, eventJSON).Err(); err != nil {
		return apperror.FromContext(fmt.Errorf("failed to publish event: %w", err))
	}

	return nil
}

func (that *RedisHub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	log := that.logger.With("method", "Subscribe", "topic", topic)

	pubsub := that.client.Subscribe(ctx, channelPrefix+topic)

	// wait for the subscription confirmation so no later publish is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, apperror.FromContext(fmt.Errorf("failed to subscribe: %w", err))
	}

	sub := newSubscription(ctx, topic, func(_ *Subscription) {
		if err := pubsub.Close(); err != nil {
			log.Warn("failed to close pubsub", "error", err)
		}
	})

	messages := pubsub.Channel()

	go func() {
		for {
			select {
			case <-sub.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					sub.Close()
					return
				}

				var event entity.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Error("failed to unmarshal event", "error", err)
					continue
				}

				sub.push(event)
			}
		}
	}()

	return sub, nil
}

func (that *RedisHub) Unsubscribe(_ string, sub *Subscription) {
	if sub == nil {
		return
	}

	sub.Close()
}
