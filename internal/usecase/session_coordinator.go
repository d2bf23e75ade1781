package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository"
)

const defaultOperationTimeout = 5 * time.Second

type sessionRepo interface {
	Create(ctx context.Context, session *entity.Session) (*entity.Session, error)
	GetByID(ctx context.Context, id string) (*entity.Session, error)
	Update(ctx context.Context, id string, expectedVersion int64, mutate repository.Mutation) (*entity.Session, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, topic string, event entity.Event) error
}

type Options struct {
	// OperationTimeout bounds every single store or publish call.
	OperationTimeout time.Duration
	// ConflictRetries is how many times a transition lost to a concurrent
	// writer is re-run against freshly read state before the conflict is returned.
	ConflictRetries int
	AllowSelfJoin   bool
}

// SessionCoordinator drives the session lifecycle: create, join and move.
//
// Every transition reads the session, checks the rules against what it read
// and writes back conditioned on the version it read. Events are published
// only after the write is committed.
type SessionCoordinator struct {
	logger    *slog.Logger
	sessions  sessionRepo
	publisher eventPublisher
	opts      Options

	newID func() string
}

func NewSessionCoordinator(logger *slog.Logger, sessions sessionRepo, publisher eventPublisher, opts Options) *SessionCoordinator {
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}

	if opts.ConflictRetries < 0 {
		opts.ConflictRetries = 0
	}

	return &SessionCoordinator{
		logger:    logger.With("component", "session-coordinator"),
		sessions:  sessions,
		publisher: publisher,
		opts:      opts,
		newID:     pkg.GenerateSessionID,
	}
}

// CreateSession opens a new waiting session owned by playerID.
func (that *SessionCoordinator) CreateSession(ctx context.Context, playerID, channelID string) (*entity.Session, error) {
	log := that.logger.With("method", "CreateSession", "playerID", playerID)

	if strings.TrimSpace(playerID) == "" {
		return nil, apperror.ErrInvalidRequester
	}

	opCtx, cancel := context.WithTimeout(ctx, that.opts.OperationTimeout)
	defer cancel()

	session, err := that.sessions.Create(opCtx, entity.NewSession(that.newID(), playerID, channelID))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", apperror.FromContext(err))
	}

	log.Info("session created", "sessionID", session.ID)

	return session, nil
}

// GetSession returns the authoritative snapshot, used by clients to resync.
func (that *SessionCoordinator) GetSession(ctx context.Context, sessionID string) (*entity.Session, error) {
	opCtx, cancel := context.WithTimeout(ctx, that.opts.OperationTimeout)
	defer cancel()

	session, err := that.sessions.GetByID(opCtx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, apperror.FromContext(err))
	}

	return session, nil
}

// JoinSession adds playerID as the second participant and starts the game.
func (that *SessionCoordinator) JoinSession(ctx context.Context, sessionID, playerID string) (*entity.Session, error) {
	log := that.logger.With("method", "JoinSession", "sessionID", sessionID, "playerID", playerID)

	if strings.TrimSpace(playerID) == "" {
		return nil, apperror.ErrInvalidRequester
	}

	session, err := that.retryOnConflict(log, func() (*entity.Session, error) {
		return that.tryJoin(ctx, sessionID, playerID)
	})
	if err != nil {
		return nil, err
	}

	log.Info("player joined session")

	if err = that.publish(ctx, entity.NewGameStartedEvent(session)); err != nil {
		log.Error("failed to publish game started", "error", err)
		return session, err
	}

	return session, nil
}

// MakeMove places the requester's mark at position if it is their turn.
func (that *SessionCoordinator) MakeMove(ctx context.Context, sessionID, playerID string, position int) (*entity.Session, error) {
	log := that.logger.With("method", "MakeMove", "sessionID", sessionID, "playerID", playerID, "position", position)

	var (
		move    entity.Move
		outcome entity.Outcome
	)

	session, err := that.retryOnConflict(log, func() (*entity.Session, error) {
		var (
			updated *entity.Session
			tryErr  error
		)
		updated, move, outcome, tryErr = that.tryMove(ctx, sessionID, playerID, position)
		return updated, tryErr
	})
	if err != nil {
		return nil, err
	}

	log.Info("move applied", "status", session.Status, "version", session.Version)

	if err = that.publish(ctx, entity.NewMoveAppliedEvent(session, move, outcome)); err != nil {
		log.Error("failed to publish move", "error", err)
		return session, err
	}

	return session, nil
}

func (that *SessionCoordinator) tryJoin(ctx context.Context, sessionID, playerID string) (*entity.Session, error) {
	current, err := that.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !current.IsWaiting() {
		if current.IsTerminal() {
			return nil, apperror.ErrGameFinished
		}
		return nil, apperror.ErrGameAlreadyStarted
	}

	if playerID == current.PlayerOneID && !that.opts.AllowSelfJoin {
		return nil, apperror.ErrSelfJoin
	}

	return that.update(ctx, current, func(session *entity.Session) error {
		session.PlayerTwoID = playerID
		session.Status = entity.StatusInProgress
		return session.Validate()
	})
}

func (that *SessionCoordinator) tryMove(
	ctx context.Context, sessionID, playerID string, position int,
) (*entity.Session, entity.Move, entity.Outcome, error) {
	current, err := that.GetSession(ctx, sessionID)
	if err != nil {
		return nil, entity.Move{}, entity.Outcome{}, err
	}

	if err = current.ConfirmInProgress(); err != nil {
		return nil, entity.Move{}, entity.Outcome{}, err
	}

	mark := current.MarkOf(playerID)
	if mark == entity.EmptyCell {
		return nil, entity.Move{}, entity.Outcome{}, apperror.ErrNotAPlayer
	}

	// self-play sessions have the same identity on both sides; the parity picks the mark
	if current.PlayerOneID == current.PlayerTwoID {
		mark = current.Board.NextPlayer()
	}

	if mark != current.Board.NextPlayer() {
		return nil, entity.Move{}, entity.Outcome{}, apperror.ErrNotYourTurn
	}

	board, err := entity.ApplyMove(current.Board, position, mark)
	if err != nil {
		return nil, entity.Move{}, entity.Outcome{}, err
	}

	outcome := entity.Evaluate(board)

	updated, err := that.update(ctx, current, func(session *entity.Session) error {
		session.Board = board
		session.ApplyOutcome(outcome)
		return session.Validate()
	})
	if err != nil {
		return nil, entity.Move{}, entity.Outcome{}, err
	}

	return updated, entity.Move{Player: mark, Position: position}, outcome, nil
}

func (that *SessionCoordinator) update(ctx context.Context, current *entity.Session, mutate repository.Mutation) (*entity.Session, error) {
	opCtx, cancel := context.WithTimeout(ctx, that.opts.OperationTimeout)
	defer cancel()

	updated, err := that.sessions.Update(opCtx, current.ID, current.Version, mutate)
	if err != nil {
		return nil, fmt.Errorf("failed to update session %s: %w", current.ID, apperror.FromContext(err))
	}

	return updated, nil
}

func (that *SessionCoordinator) publish(ctx context.Context, event entity.Event) error {
	opCtx, cancel := context.WithTimeout(ctx, that.opts.OperationTimeout)
	defer cancel()

	if err := that.publisher.Publish(opCtx, entity.Topic(event.SessionID), event); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, apperror.FromContext(err))
	}

	return nil
}

func (that *SessionCoordinator) retryOnConflict(log *slog.Logger, try func() (*entity.Session, error)) (*entity.Session, error) {
	for attempt := 0; ; attempt++ {
		session, err := try()
		if err == nil {
			return session, nil
		}

		if !errors.Is(err, apperror.ErrConcurrentModification) || attempt >= that.opts.ConflictRetries {
			return nil, err
		}

		log.Warn("lost a concurrent update, retrying with fresh state", "attempt", attempt+1)
	}
}
