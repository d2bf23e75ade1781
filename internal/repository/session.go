package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

var ErrSessionAlreadyExists = errors.New("session already exists")

// Mutation changes a session in place. Returning an error aborts the update
// and leaves the stored session untouched.
type Mutation func(session *entity.Session) error

// SessionRepository is the durable record of game sessions.
//
// Update is a compare-and-update: mutate runs against the stored session only
// when its version still equals expectedVersion, and the write is conditioned
// on nobody else committing in between. Otherwise it fails with
// apperror.ErrConcurrentModification.
type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) (*entity.Session, error)
	GetByID(ctx context.Context, id string) (*entity.Session, error)
	Update(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*entity.Session, error)
	DeleteByID(ctx context.Context, id string) error
}

var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func prepareCreate(session *entity.Session) *entity.Session {
	created := session.Clone()
	created.Version = 1
	created.CreatedAt = now()
	created.UpdatedAt = created.CreatedAt

	return created
}

// prepareUpdate checks the expected version and applies mutate to a copy of current.
func prepareUpdate(current *entity.Session, expectedVersion int64, mutate Mutation) (*entity.Session, error) {
	if current.Version != expectedVersion {
		return nil, fmt.Errorf("%w: session %s is at version %d, expected %d",
			apperror.ErrConcurrentModification, current.ID, current.Version, expectedVersion)
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	next.UpdatedAt = now()

	return next, nil
}

func sessionKey(id string) string {
	return "session:" + id
}
