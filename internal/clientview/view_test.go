package clientview

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/broadcast"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/usecase"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubFetcher struct {
	mu       sync.Mutex
	session  *entity.Session
	err      error
	requests int
}

func (that *stubFetcher) GetSession(_ context.Context, _ string) (*entity.Session, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.requests++
	if that.err != nil {
		return nil, that.err
	}
	return that.session.Clone(), nil
}

func startedSnapshot() *entity.Session {
	session := entity.NewSession("s1", "alice", "")
	session.PlayerTwoID = "bob"
	session.Status = entity.StatusInProgress
	session.Version = 2
	return session
}

func moveEvent(t *testing.T, version int64, board string, move entity.Move) entity.Event {
	t.Helper()

	parsed, err := entity.ParseBoard(board)
	require.NoError(t, err)

	outcome := entity.Evaluate(parsed)
	return entity.Event{
		Type:      entity.EventMoveApplied,
		SessionID: "s1",
		Version:   version,
		Board:     &parsed,
		Move:      &move,
		Outcome:   &outcome,
	}
}

func TestView_Apply(t *testing.T) {
	ctx := context.Background()

	t.Run("move replaces the board and passes the turn", func(t *testing.T) {
		// Given
		view := New(discardLogger(), "bob", startedSnapshot(), &stubFetcher{})
		assert.False(t, view.IsMyTurn())

		// When
		err := view.Apply(ctx, moveEvent(t, 3, "100000000", entity.Move{Player: entity.PlayerOne, Position: 0}))

		// Then
		require.NoError(t, err)
		snapshot := view.Snapshot()
		assert.Equal(t, "100000000", snapshot.Board.String())
		assert.Equal(t, int64(3), snapshot.Version)
		assert.True(t, view.IsMyTurn())
		require.Len(t, view.Moves(), 1)
		assert.Equal(t, "(1,1)", view.Moves()[0].Coordinates())
	})

	t.Run("stale and duplicate events are ignored", func(t *testing.T) {
		// Given
		view := New(discardLogger(), "bob", startedSnapshot(), &stubFetcher{})
		require.NoError(t, view.Apply(ctx, moveEvent(t, 3, "100000000", entity.Move{Player: entity.PlayerOne, Position: 0})))

		// When
		require.NoError(t, view.Apply(ctx, moveEvent(t, 3, "010000000", entity.Move{Player: entity.PlayerOne, Position: 1})))
		require.NoError(t, view.Apply(ctx, moveEvent(t, 2, "001000000", entity.Move{Player: entity.PlayerOne, Position: 2})))

		// Then
		assert.Equal(t, "100000000", view.Snapshot().Board.String())
		assert.Len(t, view.Moves(), 1)
	})

	t.Run("events of another session are ignored", func(t *testing.T) {
		// Given
		view := New(discardLogger(), "bob", startedSnapshot(), &stubFetcher{})
		event := moveEvent(t, 3, "100000000", entity.Move{Player: entity.PlayerOne, Position: 0})
		event.SessionID = "other"

		// When
		require.NoError(t, view.Apply(ctx, event))

		// Then
		assert.Equal(t, int64(2), view.Snapshot().Version)
	})

	t.Run("gap triggers a resync", func(t *testing.T) {
		// Given
		authoritative := startedSnapshot()
		authoritative.Board, _ = entity.ParseBoard("120100000")
		authoritative.Version = 5
		fetcher := &stubFetcher{session: authoritative}
		view := New(discardLogger(), "bob", startedSnapshot(), fetcher)

		// When
		err := view.Apply(ctx, moveEvent(t, 5, "120100000", entity.Move{Player: entity.PlayerOne, Position: 3}))

		// Then
		require.NoError(t, err)
		assert.Equal(t, 1, fetcher.requests)
		assert.Equal(t, int64(5), view.Snapshot().Version)
		assert.Equal(t, "120100000", view.Snapshot().Board.String())
		assert.True(t, view.IsMyTurn())
	})

	t.Run("failed resync keeps the local state", func(t *testing.T) {
		// Given
		fetcher := &stubFetcher{err: apperror.ErrTimeout}
		view := New(discardLogger(), "bob", startedSnapshot(), fetcher)

		// When
		err := view.Apply(ctx, moveEvent(t, 4, "120000000", entity.Move{Player: entity.PlayerTwo, Position: 1}))

		// Then
		require.ErrorIs(t, err, apperror.ErrTimeout)
		assert.Equal(t, int64(2), view.Snapshot().Version)
	})

	t.Run("game started adopts the session", func(t *testing.T) {
		// Given
		waiting := entity.NewSession("s1", "alice", "")
		waiting.Version = 1
		view := New(discardLogger(), "alice", waiting, &stubFetcher{})

		// When
		err := view.Apply(ctx, entity.NewGameStartedEvent(startedSnapshot()))

		// Then
		require.NoError(t, err)
		assert.Equal(t, entity.StatusInProgress, view.Snapshot().Status)
		assert.Equal(t, "bob", view.Snapshot().PlayerTwoID)
		assert.True(t, view.IsMyTurn())
	})

	t.Run("malformed events are rejected", func(t *testing.T) {
		// Given
		view := New(discardLogger(), "bob", startedSnapshot(), &stubFetcher{})

		// When
		err := view.Apply(ctx, entity.Event{Type: entity.EventMoveApplied, SessionID: "s1", Version: 3})

		// Then
		require.Error(t, err)
		assert.Equal(t, int64(2), view.Snapshot().Version)
	})
}

func TestView_Result(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		playerID string
		board    string
		expected string
	}{
		{name: "winner sees You", playerID: "alice", board: "111220000", expected: ResultYou},
		{name: "loser sees Opponent", playerID: "bob", board: "111220000", expected: ResultOpponent},
		{name: "draw", playerID: "bob", board: "121122211", expected: ResultDraw},
		{name: "still playing", playerID: "alice", board: "110220000", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given
			view := New(discardLogger(), tt.playerID, startedSnapshot(), &stubFetcher{})

			// When
			require.NoError(t, view.Apply(ctx, moveEvent(t, 3, tt.board, entity.Move{Player: entity.PlayerOne, Position: 2})))

			// Then
			assert.Equal(t, tt.expected, view.Result())
		})
	}
}

func TestView_OnChange(t *testing.T) {
	// Given
	view := New(discardLogger(), "bob", startedSnapshot(), &stubFetcher{})

	var seen []int64
	view.OnChange(func(session entity.Session) {
		seen = append(seen, session.Version)
	})

	// When
	ctx := context.Background()
	require.NoError(t, view.Apply(ctx, moveEvent(t, 3, "100000000", entity.Move{Player: entity.PlayerOne, Position: 0})))
	require.NoError(t, view.Apply(ctx, moveEvent(t, 3, "100000000", entity.Move{Player: entity.PlayerOne, Position: 0})))
	require.NoError(t, view.Apply(ctx, moveEvent(t, 4, "120000000", entity.Move{Player: entity.PlayerTwo, Position: 1})))

	// Then
	assert.Equal(t, []int64{3, 4}, seen)
}

func TestFollow_TracksAFullGame(t *testing.T) {
	// Given
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := broadcast.NewLocalHub(discardLogger())
	defer hub.Close()

	coordinator := usecase.NewSessionCoordinator(
		discardLogger(), repository.NewMemorySessionRepository(), hub, usecase.Options{OperationTimeout: time.Second},
	)

	session, err := coordinator.CreateSession(ctx, "alice", "")
	require.NoError(t, err)

	view, sub, err := Follow(ctx, discardLogger(), hub, coordinator, "alice", session.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- view.Run(ctx, sub) }()

	// When
	_, err = coordinator.JoinSession(ctx, session.ID, "bob")
	require.NoError(t, err)
	for i, position := range []int{0, 3, 1, 4, 2} {
		player := "alice"
		if i%2 == 1 {
			player = "bob"
		}
		_, err = coordinator.MakeMove(ctx, session.ID, player, position)
		require.NoError(t, err)
	}

	// Then
	require.Eventually(t, func() bool {
		return view.Snapshot().Version == 7
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, "111220000", view.Snapshot().Board.String())
	assert.Equal(t, ResultYou, view.Result())
	assert.False(t, view.IsMyTurn())
	assert.Len(t, view.Moves(), 5)

	sub.Close()
	assert.ErrorIs(t, <-done, ErrSubscriptionClosed)
}
