package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

type memorySessions struct {
	mu       sync.RWMutex
	sessions map[string]*entity.Session
}

// NewMemorySessionRepository keeps sessions in process memory. Used for local runs and tests.
func NewMemorySessionRepository() SessionRepository {
	return &memorySessions{
		sessions: make(map[string]*entity.Session),
	}
}

func (that *memorySessions) Create(ctx context.Context, session *entity.Session) (*entity.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.FromContext(err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if _, exists := that.sessions[session.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyExists, session.ID)
	}

	created := prepareCreate(session)
	that.sessions[created.ID] = created

	return created.Clone(), nil
}

func (that *memorySessions) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.FromContext(err)
	}

	that.mu.RLock()
	defer that.mu.RUnlock()

	session, ok := that.sessions[id]
	if !ok {
		return nil, apperror.ErrSessionNotFound
	}

	return session.Clone(), nil
}

func (that *memorySessions) Update(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*entity.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.FromContext(err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	current, ok := that.sessions[id]
	if !ok {
		return nil, apperror.ErrSessionNotFound
	}

	next, err := prepareUpdate(current, expectedVersion, mutate)
	if err != nil {
		return nil, err
	}

	that.sessions[id] = next

	return next.Clone(), nil
}

func (that *memorySessions) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return apperror.FromContext(err)
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.sessions[id]; !ok {
		return apperror.ErrSessionNotFound
	}

	delete(that.sessions, id)

	return nil
}
