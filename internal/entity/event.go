package entity

import "fmt"

type EventType string

const (
	EventGameStarted EventType = "GAME_STARTED"
	EventMoveApplied EventType = "MOVE"
)

// Move is one accepted placement.
type Move struct {
	Player   Cell `json:"player"`
	Position int  `json:"position"`
}

// Coordinates returns the 1-based "(row,col)" label of the move.
func (that Move) Coordinates() string {
	return fmt.Sprintf("(%d,%d)", that.Position/3+1, that.Position%3+1)
}

// Event is a session state change pushed to subscribers of the session topic.
// Version is the session version after the change was committed.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Version   int64     `json:"version"`

	// set for GAME_STARTED
	Game *Session `json:"game,omitempty"`

	// set for MOVE
	Board   *Board   `json:"board,omitempty"`
	Move    *Move    `json:"move,omitempty"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

func NewGameStartedEvent(session *Session) Event {
	return Event{
		Type:      EventGameStarted,
		SessionID: session.ID,
		Version:   session.Version,
		Game:      session.Clone(),
	}
}

func NewMoveAppliedEvent(session *Session, move Move, outcome Outcome) Event {
	board := session.Board
	return Event{
		Type:      EventMoveApplied,
		SessionID: session.ID,
		Version:   session.Version,
		Board:     &board,
		Move:      &move,
		Outcome:   &outcome,
	}
}

// Topic is the broadcast channel name for a session.
func Topic(sessionID string) string {
	return "game-" + sessionID
}
