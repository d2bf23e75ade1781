package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

const selectSession = `SELECT id, player_one_id, player_two_id, board, status, winner_id, channel_id, version, created_at, updated_at
	FROM sessions WHERE id = ?`

type sqliteSessions struct {
	conn *sql.DB
}

// NewSQLiteSessionRepository expects the sessions table created by storage.SQLiteStorage.Init.
func NewSQLiteSessionRepository(conn *sql.DB) SessionRepository {
	return &sqliteSessions{
		conn: conn,
	}
}

func (that *sqliteSessions) Create(ctx context.Context, session *entity.Session) (*entity.Session, error) {
	created := prepareCreate(session)

	query := `INSERT INTO sessions (id, player_one_id, player_two_id, board, status, winner_id, channel_id, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	result, err := that.conn.ExecContext(ctx, query,
		created.ID,
		created.PlayerOneID,
		created.PlayerTwoID,
		created.Board.String(),
		string(created.Status),
		created.WinnerID,
		created.ChannelID,
		created.Version,
		toMillis(created.CreatedAt),
		toMillis(created.UpdatedAt),
	)
	if err != nil {
		return nil, apperror.FromContext(fmt.Errorf("can't save session: %w", err))
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyExists, created.ID)
	}

	return created, nil
}

func (that *sqliteSessions) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	session, err := scanSession(that.conn.QueryRowContext(ctx, selectSession, id))
	if err != nil {
		return nil, apperror.FromContext(err)
	}

	return session, nil
}

func (that *sqliteSessions) Update(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*entity.Session, error) {
	tx, err := that.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperror.FromContext(fmt.Errorf("can't begin transaction: %w", err))
	}

	defer func() {
		_ = tx.Rollback()
	}()

	current, err := scanSession(tx.QueryRowContext(ctx, selectSession, id))
	if err != nil {
		return nil, apperror.FromContext(err)
	}

	next, err := prepareUpdate(current, expectedVersion, mutate)
	if err != nil {
		return nil, err
	}

	query := `UPDATE sessions
		SET player_two_id = ?, board = ?, status = ?, winner_id = ?, channel_id = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`

	result, err := tx.ExecContext(ctx, query,
		next.PlayerTwoID,
		next.Board.String(),
		string(next.Status),
		next.WinnerID,
		next.ChannelID,
		next.Version,
		toMillis(next.UpdatedAt),
		id,
		expectedVersion,
	)
	if err != nil {
		return nil, apperror.FromContext(fmt.Errorf("can't update session: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("can't read update result: %w", err)
	}

	if affected == 0 {
		return nil, fmt.Errorf("%w: session %s", apperror.ErrConcurrentModification, id)
	}

	if err = tx.Commit(); err != nil {
		return nil, apperror.FromContext(fmt.Errorf("can't commit session update: %w", err))
	}

	return next, nil
}

func (that *sqliteSessions) DeleteByID(ctx context.Context, id string) error {
	result, err := that.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return apperror.FromContext(fmt.Errorf("can't delete session: %w", err))
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return apperror.ErrSessionNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*entity.Session, error) {
	var (
		session              entity.Session
		board, status        string
		createdAt, updatedAt int64
	)

	err := row.Scan(
		&session.ID,
		&session.PlayerOneID,
		&session.PlayerTwoID,
		&board,
		&status,
		&session.WinnerID,
		&session.ChannelID,
		&session.Version,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.ErrSessionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("can't find session: %w", err)
	}

	session.Board, err = entity.ParseBoard(board)
	if err != nil {
		return nil, fmt.Errorf("can't decode stored board: %w", err)
	}

	session.Status = entity.Status(status)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)

	return &session, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
