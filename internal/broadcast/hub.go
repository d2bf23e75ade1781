// Package broadcast fans session events out to subscribers of a session topic.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

// Hub is a per-topic publish/subscribe channel.
//
// Each subscriber receives the events of its topic in publish order, starting
// with the first event published after Subscribe returned. A subscription
// lives until Unsubscribe is called or the context given to Subscribe is done.
type Hub interface {
	Publish(ctx context.Context, topic string, event entity.Event) error
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Unsubscribe(topic string, sub *Subscription)
}

// LocalHub delivers events inside one process.
type LocalHub struct {
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]map[string]*Subscription
}

func NewLocalHub(logger *slog.Logger) *LocalHub {
	return &LocalHub{
		logger: logger.With("component", "local-hub"),
		topics: make(map[string]map[string]*Subscription),
	}
}

func (that *LocalHub) Publish(ctx context.Context, topic string, event entity.Event) error {
	if err := ctx.Err(); err != nil {
		return apperror.FromContext(err)
	}

	// held for the whole fan-out so every subscriber sees the same order
	that.mu.Lock()
	defer that.mu.Unlock()

	delivered := 0
	for _, sub := range that.topics[topic] {
		if sub.push(event) {
			delivered++
		}
	}

	that.logger.Debug("event published", "topic", topic, "type", event.Type, "version", event.Version, "delivered", delivered)

	return nil
}

func (that *LocalHub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.FromContext(err)
	}

	sub := newSubscription(ctx, topic, func(sub *Subscription) {
		that.remove(topic, sub.ID)
	})

	that.mu.Lock()
	defer that.mu.Unlock()

	// a closed subscription has run or is waiting to run its remove; registering it now would outlive that
	select {
	case <-sub.Done():
		return sub, nil
	default:
	}

	if that.topics[topic] == nil {
		that.topics[topic] = make(map[string]*Subscription)
	}
	that.topics[topic][sub.ID] = sub

	return sub, nil
}

func (that *LocalHub) Unsubscribe(_ string, sub *Subscription) {
	if sub == nil {
		return
	}

	sub.Close()
}

// Subscribers returns the number of live subscriptions on topic.
func (that *LocalHub) Subscribers(topic string) int {
	that.mu.Lock()
	defer that.mu.Unlock()

	return len(that.topics[topic])
}

// Close ends every subscription.
func (that *LocalHub) Close() {
	that.mu.Lock()
	var subs []*Subscription
	for _, topicSubs := range that.topics {
		for _, sub := range topicSubs {
			subs = append(subs, sub)
		}
	}
	that.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (that *LocalHub) remove(topic, id string) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.topics[topic], id)
	if len(that.topics[topic]) == 0 {
		delete(that.topics, topic)
	}
}
