package apperror

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound        = errors.New("session not found")
	ErrInvalidState           = errors.New("action is not allowed in the current session state")
	ErrGameIsNotStarted       = fmt.Errorf("%w: game is not started", ErrInvalidState)
	ErrGameFinished           = fmt.Errorf("%w: game is already finished", ErrInvalidState)
	ErrGameAlreadyStarted     = fmt.Errorf("%w: game already has two players", ErrInvalidState)
	ErrSelfJoin               = fmt.Errorf("%w: player can't join their own game", ErrInvalidState)
	ErrNotAPlayer             = errors.New("requester is not a player of this session")
	ErrNotYourTurn            = errors.New("it's not your turn")
	ErrIllegalMove            = errors.New("illegal move")
	ErrCellOccupied           = fmt.Errorf("%w: cell is already occupied", ErrIllegalMove)
	ErrInvalidCell            = fmt.Errorf("%w: invalid cell index", ErrIllegalMove)
	ErrConcurrentModification = errors.New("session was modified concurrently")
	ErrTimeout                = errors.New("operation timed out")
	ErrInvalidRequester       = errors.New("requester identity is required")
)

// FromContext converts a context deadline into ErrTimeout, leaving other errors untouched.
func FromContext(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	return err
}

// IsRetryable reports whether the caller may retry after re-reading the session.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrTimeout)
}

// UserMessage returns the text shown to the requester. Unknown errors are not leaked.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "game not found"
	case errors.Is(err, ErrSelfJoin):
		return "you can't join your own game"
	case errors.Is(err, ErrGameIsNotStarted):
		return "game is not started yet"
	case errors.Is(err, ErrGameFinished):
		return "game is already finished"
	case errors.Is(err, ErrGameAlreadyStarted):
		return "game already has two players"
	case errors.Is(err, ErrInvalidState):
		return "action is not allowed right now"
	case errors.Is(err, ErrNotAPlayer):
		return "you are not a player of this game"
	case errors.Is(err, ErrNotYourTurn):
		return "it's not your turn"
	case errors.Is(err, ErrCellOccupied):
		return "cell is already occupied"
	case errors.Is(err, ErrInvalidCell):
		return "invalid cell"
	case errors.Is(err, ErrIllegalMove):
		return "illegal move"
	case errors.Is(err, ErrConcurrentModification):
		return "game changed, please retry"
	case errors.Is(err, ErrTimeout):
		return "service is busy, please retry"
	case errors.Is(err, ErrInvalidRequester):
		return "player is required"
	default:
		return "internal server error"
	}
}
