package entity

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
)

// Cell is the content of one board square.
type Cell uint8

const (
	EmptyCell Cell = iota
	PlayerOne
	PlayerTwo
)

const BoardSize = 9

// WinCombos are scanned in this order, so on a board with several complete
// lines the first one listed here decides the winner.
var WinCombos = [8][3]int{
	// rows
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	// columns
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	// diagonals
	{0, 4, 8},
	{2, 4, 6},
}

func (that Cell) IsPlayer() bool {
	return that == PlayerOne || that == PlayerTwo
}

// Board is a 3x3 grid stored row by row.
type Board [BoardSize]Cell

// OutcomeState is the result category of a board evaluation.
type OutcomeState string

const (
	OutcomeInProgress OutcomeState = "IN_PROGRESS"
	OutcomeWin        OutcomeState = "WIN"
	OutcomeDraw       OutcomeState = "DRAW"
)

// Outcome is the result of evaluating a board. Winner is set only for OutcomeWin.
type Outcome struct {
	State  OutcomeState `json:"state"`
	Winner Cell         `json:"winner,omitempty"`
}

func InProgress() Outcome {
	return Outcome{State: OutcomeInProgress}
}

func Win(player Cell) Outcome {
	return Outcome{State: OutcomeWin, Winner: player}
}

func Draw() Outcome {
	return Outcome{State: OutcomeDraw}
}

func (that Outcome) IsTerminal() bool {
	return that.State == OutcomeWin || that.State == OutcomeDraw
}

// ApplyMove returns a copy of board with position taken by player.
// The input board is never modified. Turn order is not checked here.
func ApplyMove(board Board, position int, player Cell) (Board, error) {
	if position < 0 || position >= BoardSize {
		return board, fmt.Errorf("%w: cell %d", apperror.ErrInvalidCell, position)
	}

	if !player.IsPlayer() {
		return board, fmt.Errorf("%w: unknown player mark %d", apperror.ErrIllegalMove, player)
	}

	if board[position] != EmptyCell {
		return board, fmt.Errorf("%w: cell %d", apperror.ErrCellOccupied, position)
	}

	next := board
	next[position] = player

	return next, nil
}

// Evaluate scans the 8 winning lines, then looks for an empty cell.
func Evaluate(board Board) Outcome {
	for _, combo := range WinCombos {
		a, b, c := board[combo[0]], board[combo[1]], board[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return Win(a)
		}
	}

	for _, cell := range board {
		if cell == EmptyCell {
			return InProgress()
		}
	}

	return Draw()
}

// Filled counts non-empty cells.
func (that Board) Filled() int {
	count := 0
	for _, cell := range that {
		if cell != EmptyCell {
			count++
		}
	}
	return count
}

// NextPlayer derives whose turn it is from the number of filled cells.
func (that Board) NextPlayer() Cell {
	if that.Filled()%2 == 0 {
		return PlayerOne
	}
	return PlayerTwo
}

// String encodes the board as 9 digits, e.g. "100020000".
func (that Board) String() string {
	buf := make([]byte, BoardSize)
	for i, cell := range that {
		buf[i] = '0' + byte(cell)
	}
	return string(buf)
}

func (that Board) MarshalText() ([]byte, error) {
	return []byte(that.String()), nil
}

func (that *Board) UnmarshalText(text []byte) error {
	board, err := ParseBoard(string(text))
	if err != nil {
		return err
	}

	*that = board

	return nil
}

// ParseBoard decodes the 9-digit persisted form.
func ParseBoard(raw string) (Board, error) {
	var board Board

	if len(raw) != BoardSize {
		return board, fmt.Errorf("%w: board must have %d cells, got %d", ErrInvalidBoard, BoardSize, len(raw))
	}

	for i := range BoardSize {
		cell := Cell(raw[i] - '0')
		if raw[i] < '0' || cell > PlayerTwo {
			return Board{}, fmt.Errorf("%w: unexpected value %q at cell %d", ErrInvalidBoard, raw[i], i)
		}
		board[i] = cell
	}

	return board, nil
}
