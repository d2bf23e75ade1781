package usecase

import (
	"context"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository"
)

type mockSessionRepo struct {
	mock.Mock
}

func (m *mockSessionRepo) Create(ctx context.Context, session *entity.Session) (*entity.Session, error) {
	args := m.Called(ctx, session)

	created, _ := args.Get(0).(*entity.Session)
	return created, args.Error(1)
}

func (m *mockSessionRepo) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	args := m.Called(ctx, id)

	session, _ := args.Get(0).(*entity.Session)
	return session, args.Error(1)
}

func (m *mockSessionRepo) Update(ctx context.Context, id string, expectedVersion int64, mutate repository.Mutation) (*entity.Session, error) {
	args := m.Called(ctx, id, expectedVersion, mutate)

	session, _ := args.Get(0).(*entity.Session)
	return session, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, event entity.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

// gatedRepo holds the first `readers` GetByID calls until all of them have
// read, so they all act on the same pre-move state.
type gatedRepo struct {
	repository.SessionRepository

	readers int32
	arrived atomic.Int32
	gate    chan struct{}
}

func newGatedRepo(inner repository.SessionRepository, readers int32) *gatedRepo {
	return &gatedRepo{
		SessionRepository: inner,
		readers:           readers,
		gate:              make(chan struct{}),
	}
}

func (that *gatedRepo) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	session, err := that.SessionRepository.GetByID(ctx, id)

	if n := that.arrived.Add(1); n <= that.readers {
		if n == that.readers {
			close(that.gate)
		}

		select {
		case <-that.gate:
		case <-ctx.Done():
		}
	}

	return session, err
}
