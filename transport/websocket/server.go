package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/broadcast"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

const (
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

type sessionCoordinator interface {
	CreateSession(ctx context.Context, playerID, channelID string) (*entity.Session, error)
	GetSession(ctx context.Context, sessionID string) (*entity.Session, error)
	JoinSession(ctx context.Context, sessionID, playerID string) (*entity.Session, error)
	MakeMove(ctx context.Context, sessionID, playerID string, position int) (*entity.Session, error)
}

type subscriber interface {
	Subscribe(ctx context.Context, topic string) (*broadcast.Subscription, error)
	Unsubscribe(topic string, sub *broadcast.Subscription)
}

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type handlerFunc func(ctx context.Context, client *client, msg *Message) error

type Server struct {
	logger      *slog.Logger
	coordinator sessionCoordinator
	hub         subscriber

	handlers map[string]handlerFunc
}

func New(logger *slog.Logger, coordinator sessionCoordinator, hub subscriber) *Server {
	server := &Server{
		logger:      logger.With("component", "websocket"),
		coordinator: coordinator,
		hub:         hub,
		handlers:    make(map[string]handlerFunc),
	}

	server.handlers[actionCreate] = server.handleCreate
	server.handlers[actionJoin] = server.handleJoin
	server.handlers[actionMove] = server.handleMove
	server.handlers[actionGet] = server.handleGet
	server.handlers[actionSubscribe] = server.handleSubscribe
	server.handlers[actionUnsubscribe] = server.handleUnsubscribe

	return server
}

func (that *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", that.serveWS)

	return mux
}

// Start - starts WebSocket server and stops it once ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     that.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 30 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shutdown WebSocket server", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "serveWS")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Error("failed to accept websocket", "error", err)
		return
	}
	defer conn.Close(websocket.StatusGoingAway, "server closing websocket")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newClient(conn)
	defer c.unsubscribeAll(that.hub)

	log.Info("WebSocket connection established")

	if err = that.handleMessages(ctx, c); err != nil && !isNormalClose(err) {
		log.Error("error handling messages", "error", err)
	}
}

// handleMessages - processes messages from the client until the connection ends.
func (that *Server) handleMessages(ctx context.Context, c *client) error {
	log := that.logger.With("method", "handleMessages")

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}

		var msg Message
		if err = json.Unmarshal(data, &msg); err != nil {
			log.Warn("failed to unmarshal message", "error", err)
			continue
		}

		handler, ok := that.handlers[msg.Action]
		if !ok {
			log.Warn("unknown action", "action", msg.Action)
			if err = c.send(ctx, msg.Action, Payload{Error: "unknown action"}); err != nil {
				return err
			}
			continue
		}

		if err = handler(ctx, c, &msg); err != nil {
			log.Error("error processing message", "action", msg.Action, "error", err)
		}
	}
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return errors.Is(err, context.Canceled)
	}
}
