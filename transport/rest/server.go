package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

const shutdownTimeout = 5 * time.Second

type sessionCoordinator interface {
	CreateSession(ctx context.Context, playerID, channelID string) (*entity.Session, error)
	GetSession(ctx context.Context, sessionID string) (*entity.Session, error)
	JoinSession(ctx context.Context, sessionID, playerID string) (*entity.Session, error)
	MakeMove(ctx context.Context, sessionID, playerID string, position int) (*entity.Session, error)
}

type Server struct {
	logger      *slog.Logger
	coordinator sessionCoordinator
}

func New(logger *slog.Logger, coordinator sessionCoordinator) *Server {
	return &Server{
		logger:      logger.With("component", "rest"),
		coordinator: coordinator,
	}
}

func (that *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", that.handlePing)
	mux.HandleFunc("POST /api/game", that.handleGameAction)
	mux.HandleFunc("GET /api/game/{id}", that.handleGetGame)

	return mux
}

// Start - starts HTTP server and stops it once ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      that.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shutdown HTTP server", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}
