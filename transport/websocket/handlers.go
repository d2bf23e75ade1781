package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/broadcast"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

const (
	actionCreate      = "session:create"
	actionJoin        = "session:join"
	actionMove        = "session:move"
	actionGet         = "session:get"
	actionSubscribe   = "session:subscribe"
	actionUnsubscribe = "session:unsubscribe"
	actionEvent       = "session:event"
)

type Request struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
	ChannelID string `json:"channelId,omitempty"`
	Position  *int   `json:"position,omitempty"`
}

// Payload is the body of both replies and pushed events. Retryable marks an
// error the client may resend the request for.
type Payload struct {
	Session   *entity.Session `json:"session,omitempty"`
	Event     *entity.Event   `json:"event,omitempty"`
	Error     string          `json:"error,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
}

// client is one websocket connection and the session topics it follows.
type client struct {
	conn *websocket.Conn

	mu            sync.Mutex
	subscriptions map[string]*broadcast.Subscription
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:          conn,
		subscriptions: make(map[string]*broadcast.Subscription),
	}
}

func (that *client) send(ctx context.Context, action string, payload Payload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err = wsjson.Write(writeCtx, that.conn, Message{Action: action, Payload: raw}); err != nil {
		return fmt.Errorf("failed to send %s: %w", action, err)
	}

	return nil
}

func (that *client) unsubscribeAll(hub subscriber) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for sessionID, sub := range that.subscriptions {
		hub.Unsubscribe(sub.Topic, sub)
		delete(that.subscriptions, sessionID)
	}
}

// drop forgets sub if it is still the subscription held for sessionID.
func (that *client) drop(sessionID string, sub *broadcast.Subscription) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.subscriptions[sessionID] == sub {
		delete(that.subscriptions, sessionID)
	}
}

func (that *Server) handleCreate(ctx context.Context, c *client, msg *Message) error {
	req, err := decodeRequest(msg)
	if err != nil {
		return c.send(ctx, msg.Action, Payload{Error: err.Error()})
	}

	session, err := that.coordinator.CreateSession(ctx, req.PlayerID, req.ChannelID)
	return that.reply(ctx, c, msg.Action, session, err)
}

func (that *Server) handleJoin(ctx context.Context, c *client, msg *Message) error {
	req, err := decodeRequest(msg)
	if err != nil {
		return c.send(ctx, msg.Action, Payload{Error: err.Error()})
	}

	session, err := that.coordinator.JoinSession(ctx, req.SessionID, req.PlayerID)
	return that.reply(ctx, c, msg.Action, session, err)
}

func (that *Server) handleMove(ctx context.Context, c *client, msg *Message) error {
	req, err := decodeRequest(msg)
	if err != nil {
		return c.send(ctx, msg.Action, Payload{Error: err.Error()})
	}

	if req.Position == nil {
		return c.send(ctx, msg.Action, Payload{Error: "position is required"})
	}

	session, err := that.coordinator.MakeMove(ctx, req.SessionID, req.PlayerID, *req.Position)
	return that.reply(ctx, c, msg.Action, session, err)
}

func (that *Server) handleGet(ctx context.Context, c *client, msg *Message) error {
	req, err := decodeRequest(msg)
	if err != nil {
		return c.send(ctx, msg.Action, Payload{Error: err.Error()})
	}

	session, err := that.coordinator.GetSession(ctx, req.SessionID)
	return that.reply(ctx, c, msg.Action, session, err)
}

// handleSubscribe starts forwarding the session's events to the client and
// replies with the current snapshot. The subscription is made before the
// snapshot is read so no change falls in between.
func (that *Server) handleSubscribe(ctx context.Context, c *client, msg *Message) error {
	log := that.logger.With("method", "handleSubscribe")

	req, err := decodeRequest(msg)
	if err != nil {
		return c.send(ctx, msg.Action, Payload{Error: err.Error()})
	}

	c.mu.Lock()
	_, subscribed := c.subscriptions[req.SessionID]
	c.mu.Unlock()

	if subscribed {
		session, getErr := that.coordinator.GetSession(ctx, req.SessionID)
		return that.reply(ctx, c, msg.Action, session, getErr)
	}

	sub, err := that.hub.Subscribe(ctx, entity.Topic(req.SessionID))
	if err != nil {
		return that.reply(ctx, c, msg.Action, nil, err)
	}

	session, err := that.coordinator.GetSession(ctx, req.SessionID)
	if err != nil {
		that.hub.Unsubscribe(sub.Topic, sub)
		return that.reply(ctx, c, msg.Action, nil, err)
	}

	c.mu.Lock()
	c.subscriptions[req.SessionID] = sub
	c.mu.Unlock()

	go that.forward(ctx, c, req.SessionID, sub)

	log.Info("client subscribed", "sessionID", req.SessionID)

	return that.reply(ctx, c, msg.Action, session, nil)
}

func (that *Server) handleUnsubscribe(ctx context.Context, c *client, msg *Message) error {
	req, err := decodeRequest(msg)
	if err != nil {
		return c.send(ctx, msg.Action, Payload{Error: err.Error()})
	}

	c.mu.Lock()
	sub, ok := c.subscriptions[req.SessionID]
	delete(c.subscriptions, req.SessionID)
	c.mu.Unlock()

	if ok {
		that.hub.Unsubscribe(sub.Topic, sub)
	}

	return c.send(ctx, msg.Action, Payload{})
}

// forward pushes events until the subscription ends. A failed send drops the
// subscription so events stop queueing for a client that can't take them.
func (that *Server) forward(ctx context.Context, c *client, sessionID string, sub *broadcast.Subscription) {
	log := that.logger.With("method", "forward", "topic", sub.Topic)

	for event := range sub.Events() {
		if err := c.send(ctx, actionEvent, Payload{Event: &event}); err != nil {
			log.Error("failed to forward event", "version", event.Version, "error", err)
			c.drop(sessionID, sub)
			that.hub.Unsubscribe(sub.Topic, sub)
			return
		}
	}
}

// reply answers a request. A transition that was committed but could not be
// broadcast still answers with the session.
func (that *Server) reply(ctx context.Context, c *client, action string, session *entity.Session, err error) error {
	if err != nil && session == nil {
		that.logger.Info("request rejected", "action", action, "error", err)
		return c.send(ctx, action, Payload{Error: apperror.UserMessage(err), Retryable: apperror.IsRetryable(err)})
	}

	if err != nil {
		that.logger.Warn("transition committed but not broadcast", "action", action, "error", err)
	}

	return c.send(ctx, action, Payload{Session: session})
}

func decodeRequest(msg *Message) (*Request, error) {
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	return &req, nil
}
