package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

const (
	actionCreate = "CREATE"
	actionJoin   = "JOIN"
	actionMove   = "MOVE"
)

var errBadRequest = errors.New("bad request")

type gameRequest struct {
	Action    string `json:"action"`
	GameID    string `json:"gameId"`
	PlayerID  string `json:"playerId"`
	ChannelID string `json:"channelId"`
	Position  *int   `json:"position"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (that *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		that.logger.Error("failed to write pong", "error", err)
	}
}

func (that *Server) handleGameAction(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "handleGameAction")

	var req gameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		that.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}

	log = log.With("action", req.Action, "gameID", req.GameID, "playerID", req.PlayerID)

	var (
		session *entity.Session
		status  = http.StatusOK
		err     error
	)

	ctx := r.Context()

	switch req.Action {
	case actionCreate:
		session, err = that.coordinator.CreateSession(ctx, req.PlayerID, req.ChannelID)
		status = http.StatusCreated
	case actionJoin:
		if req.GameID == "" {
			err = fmt.Errorf("%w: gameId is required", errBadRequest)
			break
		}
		session, err = that.coordinator.JoinSession(ctx, req.GameID, req.PlayerID)
	case actionMove:
		if req.GameID == "" || req.Position == nil {
			err = fmt.Errorf("%w: gameId and position are required", errBadRequest)
			break
		}
		session, err = that.coordinator.MakeMove(ctx, req.GameID, req.PlayerID, *req.Position)
	default:
		err = fmt.Errorf("%w: unknown action %q", errBadRequest, req.Action)
	}

	// the transition is committed even if its event could not be published
	if err != nil && session != nil {
		log.Warn("transition committed but not broadcast", "error", err)
		err = nil
	}

	if err != nil {
		log.Info("game action rejected", "error", err)
		that.writeError(w, err)
		return
	}

	that.writeJSON(w, status, session)
}

func (that *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	session, err := that.coordinator.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		that.writeError(w, err)
		return
	}

	that.writeJSON(w, http.StatusOK, session)
}

func (that *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		that.logger.Error("failed to write response", "error", err)
	}
}

func (that *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		that.logger.Error("request failed", "error", err)
	}

	message := apperror.UserMessage(err)
	if errors.Is(err, errBadRequest) {
		message = err.Error()
	}

	if apperror.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}

	that.writeJSON(w, status, errorResponse{Error: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, apperror.ErrInvalidRequester):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrNotAPlayer):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrInvalidState),
		errors.Is(err, apperror.ErrNotYourTurn),
		errors.Is(err, apperror.ErrIllegalMove),
		errors.Is(err, apperror.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
