package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

type redisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionRepository stores each session as a JSON value under "session:<id>".
// Updates use WATCH/MULTI/EXEC so a concurrent writer aborts the transaction.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) SessionRepository {
	return &redisSessions{
		client: client,
		ttl:    ttl,
	}
}

func (that *redisSessions) Create(ctx context.Context, session *entity.Session) (*entity.Session, error) {
	created := prepareCreate(session)

	sessionJSON, err := json.Marshal(created)
	if err != nil {
		return nil, fmt.Errorf("could not marshal session: %w", err)
	}

	ok, err := that.client.SetNX(ctx, sessionKey(created.ID), sessionJSON, that.ttl).Result()
	if err != nil {
		return nil, apperror.FromContext(fmt.Errorf("failed to set session: %w", err))
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyExists, created.ID)
	}

	return created, nil
}

func (that *redisSessions) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	response, err := that.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrSessionNotFound
	}

	if err != nil {
		return nil, apperror.FromContext(fmt.Errorf("failed to get session by id: %w", err))
	}

	return decodeSession(response)
}

func (that *redisSessions) Update(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*entity.Session, error) {
	key := sessionKey(id)

	var updated *entity.Session

	err := that.client.Watch(ctx, func(tx *redis.Tx) error {
		response, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperror.ErrSessionNotFound
		}

		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}

		current, err := decodeSession(response)
		if err != nil {
			return err
		}

		next, err := prepareUpdate(current, expectedVersion, mutate)
		if err != nil {
			return err
		}

		sessionJSON, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("could not marshal session: %w", err)
		}

		// EXEC fails with redis.TxFailedErr if the key changed after WATCH.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, sessionJSON, that.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		updated = next

		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("%w: session %s", apperror.ErrConcurrentModification, id)
	}

	if err != nil {
		return nil, apperror.FromContext(err)
	}

	return updated, nil
}

func (that *redisSessions) DeleteByID(ctx context.Context, id string) error {
	deleted, err := that.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return apperror.FromContext(fmt.Errorf("failed to delete session by id: %w", err))
	}

	if deleted == 0 {
		return apperror.ErrSessionNotFound
	}

	return nil
}

func decodeSession(raw []byte) (*entity.Session, error) {
	var session entity.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}
