// Package clientview rebuilds a session on the consumer side from a snapshot
// and the session's event stream.
package clientview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/broadcast"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

const (
	ResultYou      = "You"
	ResultOpponent = "Opponent"
	ResultDraw     = "Draw"
)

var ErrSubscriptionClosed = errors.New("subscription closed")

type sessionFetcher interface {
	GetSession(ctx context.Context, sessionID string) (*entity.Session, error)
}

type subscriber interface {
	Subscribe(ctx context.Context, topic string) (*broadcast.Subscription, error)
}

// View is the local copy of one session as seen by one player.
//
// Events are applied by version. Anything not newer than the local copy is
// ignored; a gap means events were missed and the view re-fetches the
// authoritative snapshot instead of trusting the stream.
type View struct {
	logger   *slog.Logger
	playerID string
	fetcher  sessionFetcher

	mu        sync.RWMutex
	session   entity.Session
	moves     []entity.Move
	listeners []func(entity.Session)
}

func New(logger *slog.Logger, playerID string, snapshot *entity.Session, fetcher sessionFetcher) *View {
	return &View{
		logger:   logger.With("component", "client-view", "playerID", playerID, "sessionID", snapshot.ID),
		playerID: playerID,
		fetcher:  fetcher,
		session:  *snapshot.Clone(),
	}
}

// Follow subscribes to the session topic and only then fetches the snapshot,
// so nothing committed in between is lost. The caller runs the returned view
// with Run and ends it by cancelling ctx.
func Follow(
	ctx context.Context, logger *slog.Logger, hub subscriber, fetcher sessionFetcher, playerID, sessionID string,
) (*View, *broadcast.Subscription, error) {
	sub, err := hub.Subscribe(ctx, entity.Topic(sessionID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	snapshot, err := fetcher.GetSession(ctx, sessionID)
	if err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	return New(logger, playerID, snapshot, fetcher), sub, nil
}

// OnChange registers fn to be called with the new state after every change.
func (that *View) OnChange(fn func(entity.Session)) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.listeners = append(that.listeners, fn)
}

// Run applies events from sub until ctx is done or the subscription ends.
func (that *View) Run(ctx context.Context, sub *broadcast.Subscription) error {
	log := that.logger.With("method", "Run")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return ErrSubscriptionClosed
			}

			if err := that.Apply(ctx, event); err != nil {
				log.Error("failed to apply event", "version", event.Version, "error", err)
			}
		}
	}
}

// Apply reconciles one event into the local state.
func (that *View) Apply(ctx context.Context, event entity.Event) error {
	that.mu.Lock()

	if event.SessionID != that.session.ID || event.Version <= that.session.Version {
		that.mu.Unlock()
		return nil
	}

	if event.Version > that.session.Version+1 {
		that.mu.Unlock()
		that.logger.Info("missed events, resyncing", "local", that.session.Version, "received", event.Version)
		return that.Resync(ctx)
	}

	switch event.Type {
	case entity.EventGameStarted:
		if event.Game == nil {
			that.mu.Unlock()
			return fmt.Errorf("%s event without game", event.Type)
		}
		that.session = *event.Game.Clone()
	case entity.EventMoveApplied:
		if event.Board == nil || event.Outcome == nil {
			that.mu.Unlock()
			return fmt.Errorf("%s event without board or outcome", event.Type)
		}
		that.session.Board = *event.Board
		that.session.ApplyOutcome(*event.Outcome)
		if event.Move != nil {
			that.moves = append(that.moves, *event.Move)
		}
	default:
		that.mu.Unlock()
		return fmt.Errorf("unknown event type %q", event.Type)
	}

	that.session.Version = event.Version
	state, listeners := that.session, that.listeners
	that.mu.Unlock()

	notify(listeners, state)

	return nil
}

// Resync replaces the local state with the authoritative snapshot.
func (that *View) Resync(ctx context.Context) error {
	that.mu.RLock()
	sessionID := that.session.ID
	that.mu.RUnlock()

	fresh, err := that.fetcher.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to resync session %s: %w", sessionID, err)
	}

	that.mu.Lock()
	if fresh.Version <= that.session.Version {
		that.mu.Unlock()
		return nil
	}

	that.session = *fresh
	state, listeners := that.session, that.listeners
	that.mu.Unlock()

	notify(listeners, state)

	return nil
}

func (that *View) Snapshot() entity.Session {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.session
}

// Moves are the moves this view received as events. Moves made while the
// view was out of sync are not included.
func (that *View) Moves() []entity.Move {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return append([]entity.Move(nil), that.moves...)
}

func (that *View) IsMyTurn() bool {
	that.mu.RLock()
	defer that.mu.RUnlock()

	return that.playerID != "" && that.session.CurrentTurn() == that.playerID
}

// Result is the finished game from this player's side, or empty while playing.
func (that *View) Result() string {
	that.mu.RLock()
	defer that.mu.RUnlock()

	switch that.session.Status {
	case entity.StatusDraw:
		return ResultDraw
	case entity.StatusCompleted:
		if that.session.WinnerID == that.playerID {
			return ResultYou
		}
		return ResultOpponent
	default:
		return ""
	}
}

func notify(listeners []func(entity.Session), state entity.Session) {
	for _, listener := range listeners {
		listener(state)
	}
}
