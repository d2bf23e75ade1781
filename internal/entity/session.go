package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
)

type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusDraw       Status = "DRAW"
)

var (
	ErrInvalidBoard      = errors.New("invalid board")
	ErrUnknownGameStatus = errors.New("unknown game status")
)

// Session is one two-player game. The player to move is never stored,
// it is always derived from the board.
type Session struct {
	ID          string    `json:"id"`
	PlayerOneID string    `json:"player1Id"`
	PlayerTwoID string    `json:"player2Id,omitempty"`
	Board       Board     `json:"board"`
	Status      Status    `json:"status"`
	WinnerID    string    `json:"winnerId,omitempty"`
	ChannelID   string    `json:"channelId,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func NewSession(id, playerOneID, channelID string) *Session {
	return &Session{
		ID:          id,
		PlayerOneID: playerOneID,
		Status:      StatusWaiting,
		ChannelID:   channelID,
	}
}

func (that *Session) IsWaiting() bool {
	return that.Status == StatusWaiting
}

func (that *Session) IsInProgress() bool {
	return that.Status == StatusInProgress
}

func (that *Session) IsTerminal() bool {
	return that.Status == StatusCompleted || that.Status == StatusDraw
}

// ConfirmInProgress returns nil only when moves may be played.
func (that *Session) ConfirmInProgress() error {
	switch {
	case that.IsInProgress():
		return nil
	case that.IsWaiting():
		return apperror.ErrGameIsNotStarted
	case that.IsTerminal():
		return apperror.ErrGameFinished
	default:
		return fmt.Errorf("%w: %s", ErrUnknownGameStatus, that.Status)
	}
}

// MarkOf returns the board mark of a participant, or EmptyCell for outsiders.
func (that *Session) MarkOf(playerID string) Cell {
	switch {
	case playerID == "":
		return EmptyCell
	case playerID == that.PlayerOneID:
		return PlayerOne
	case playerID == that.PlayerTwoID:
		return PlayerTwo
	default:
		return EmptyCell
	}
}

// PlayerOf returns the identity holding mark.
func (that *Session) PlayerOf(mark Cell) string {
	switch mark {
	case PlayerOne:
		return that.PlayerOneID
	case PlayerTwo:
		return that.PlayerTwoID
	default:
		return ""
	}
}

// CurrentTurn is the identity expected to move next.
func (that *Session) CurrentTurn() string {
	if !that.IsInProgress() {
		return ""
	}
	return that.PlayerOf(that.Board.NextPlayer())
}

// ApplyOutcome sets status and winner from a board evaluation.
func (that *Session) ApplyOutcome(outcome Outcome) {
	switch outcome.State {
	case OutcomeWin:
		that.Status = StatusCompleted
		that.WinnerID = that.PlayerOf(outcome.Winner)
	case OutcomeDraw:
		that.Status = StatusDraw
		that.WinnerID = ""
	default:
		that.Status = StatusInProgress
		that.WinnerID = ""
	}
}

// Validate checks the invariants that tie status, participants and board together.
func (that *Session) Validate() error {
	outcome := Evaluate(that.Board)

	switch that.Status {
	case StatusWaiting:
		if that.PlayerTwoID != "" {
			return fmt.Errorf("%w: waiting session has a second player", apperror.ErrInvalidState)
		}
		if that.Board.Filled() != 0 {
			return fmt.Errorf("%w: waiting session has moves", apperror.ErrInvalidState)
		}
	case StatusInProgress:
		if that.PlayerOneID == "" || that.PlayerTwoID == "" {
			return fmt.Errorf("%w: session in progress without both players", apperror.ErrInvalidState)
		}
		if outcome.IsTerminal() {
			return fmt.Errorf("%w: session in progress on a finished board", apperror.ErrInvalidState)
		}
	case StatusCompleted:
		if outcome.State != OutcomeWin || that.WinnerID == "" || that.WinnerID != that.PlayerOf(outcome.Winner) {
			return fmt.Errorf("%w: completed session without a matching winner", apperror.ErrInvalidState)
		}
	case StatusDraw:
		if outcome.State != OutcomeDraw || that.WinnerID != "" {
			return fmt.Errorf("%w: draw on a board that is not a draw", apperror.ErrInvalidState)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownGameStatus, that.Status)
	}

	return nil
}

// Clone returns an independent copy.
func (that *Session) Clone() *Session {
	if that == nil {
		return nil
	}
	cp := *that
	return &cp
}
