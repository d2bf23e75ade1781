package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

// Subscription is one subscriber's ordered view of a topic.
//
// Delivery never blocks the publisher: events queue up until the reader
// takes them from Events. Events whose version is not newer than the last
// one queued are dropped, so a reader never goes back to an older state.
type Subscription struct {
	ID    string
	Topic string

	mu          sync.Mutex
	pending     []entity.Event
	lastVersion int64
	closed      bool

	out       chan entity.Event
	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(sub *Subscription)
}

// newSubscription ends the subscription when ctx is done. onClose runs once,
// on the first Close, and is fixed before any goroutine can call Close.
func newSubscription(ctx context.Context, topic string, onClose func(sub *Subscription)) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Topic:   topic,
		out:     make(chan entity.Event),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}

	go sub.pump()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

// Events is closed after the subscription ends.
func (that *Subscription) Events() <-chan entity.Event {
	return that.out
}

// Done is closed when the subscription ends.
func (that *Subscription) Done() <-chan struct{} {
	return that.done
}

// Close ends the subscription. Safe to call more than once.
func (that *Subscription) Close() {
	that.closeOnce.Do(func() {
		that.mu.Lock()
		that.closed = true
		that.pending = nil
		that.mu.Unlock()

		close(that.done)

		if that.onClose != nil {
			that.onClose(that)
		}
	})
}

func (that *Subscription) push(event entity.Event) bool {
	that.mu.Lock()

	if that.closed || event.Version <= that.lastVersion {
		that.mu.Unlock()
		return false
	}

	that.lastVersion = event.Version
	that.pending = append(that.pending, event)
	that.mu.Unlock()

	select {
	case that.notify <- struct{}{}:
	default:
	}

	return true
}

func (that *Subscription) pump() {
	defer close(that.out)

	for {
		that.mu.Lock()
		if len(that.pending) == 0 {
			that.mu.Unlock()

			select {
			case <-that.notify:
				continue
			case <-that.done:
				return
			}
		}

		event := that.pending[0]
		that.pending[0] = entity.Event{}
		that.pending = that.pending[1:]
		that.mu.Unlock()

		select {
		case that.out <- event:
		case <-that.done:
			return
		}
	}
}
