package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/spinchat/engine/internal/domain"
)

// wireMessage is the websocket envelope. Signal kinds travel as-is; the
// transport adds join/leave commands and peer-joined/peer-left/error events.
type wireMessage struct {
	Type   string          `json:"type"`
	RoomID string          `json:"roomId,omitempty"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	wireJoin       = "join"
	wireLeave      = "leave"
	wirePeerJoined = "peer-joined"
	wirePeerLeft   = "peer-left"
	wireError      = "error"
)

const defaultPingInterval = 25 * time.Second

// WebsocketChannel is the network signaling variant. It speaks the wire
// shape above against a signaling server over a single websocket.
type WebsocketChannel struct {
	url          string
	pingInterval time.Duration
	log          zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler domain.SignalingHandler
	roomID  string
	selfID  string
	partner string

	closed chan struct{}
}

var _ domain.SignalingChannel = (*WebsocketChannel)(nil)

// NewWebsocketChannel creates a channel that will dial the given URL on
// Connect.
func NewWebsocketChannel(url string, log zerolog.Logger) *WebsocketChannel {
	return &WebsocketChannel{
		url:          url,
		pingInterval: defaultPingInterval,
		log:          log.With().Str("component", "signaling-ws").Logger(),
		closed:       make(chan struct{}),
	}
}

// SetHandler installs the event receiver. Must be called before Connect.
func (c *WebsocketChannel) SetHandler(h domain.SignalingHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect dials the signaling server and starts the read and ping loops.
func (c *WebsocketChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return domain.ErrChannelClosed
	default:
	}
	if c.conn != nil {
		return nil
	}

	c.log.Debug().Str("url", c.url).Msg("dialing signaling server")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", domain.ErrSignalingTransport, c.url, err)
	}
	c.conn = conn

	go c.readLoop(conn)
	go c.pingLoop(conn)
	return nil
}

// Disconnect closes the websocket and stops the loops. Idempotent.
func (c *WebsocketChannel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.roomID, c.selfID, c.partner = "", "", ""
}

// JoinRoom announces this peer to the given room, leaving any prior room
// first.
func (c *WebsocketChannel) JoinRoom(roomID, selfID string) error {
	c.mu.Lock()
	if c.roomID != "" {
		c.writeLocked(wireMessage{Type: wireLeave, RoomID: c.roomID, From: c.selfID})
	}
	c.roomID = roomID
	c.selfID = selfID
	c.partner = ""
	err := c.writeLocked(wireMessage{Type: wireJoin, RoomID: roomID, From: selfID})
	c.mu.Unlock()
	return err
}

// LeaveRoom announces departure from the current room, if any.
func (c *WebsocketChannel) LeaveRoom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" {
		return
	}
	c.writeLocked(wireMessage{Type: wireLeave, RoomID: c.roomID, From: c.selfID})
	c.roomID, c.selfID, c.partner = "", "", ""
}

// Send forwards a signaling envelope through the server.
func (c *WebsocketChannel) Send(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID == "" {
		return fmt.Errorf("%w: not in a room", domain.ErrSignalingTransport)
	}
	return c.writeLocked(wireMessage{
		Type:   string(env.Type),
		RoomID: c.roomID,
		From:   c.selfID,
		To:     env.To,
		Data:   env.Data,
	})
}

func (c *WebsocketChannel) writeLocked(msg wireMessage) error {
	if c.conn == nil {
		return domain.ErrChannelClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal wire message: %w", err)
	}
	c.log.Trace().RawJSON("msg", data).Msg("send")
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: write: %v", domain.ErrSignalingTransport, err)
	}
	return nil
}

func (c *WebsocketChannel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.log.Warn().Err(err).Msg("signaling read failed")
				c.emitError(fmt.Errorf("%w: read: %v", domain.ErrSignalingTransport, err))
			}
			return
		}

		c.log.Trace().RawJSON("msg", data).Msg("recv")

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn().Err(err).Msg("malformed signaling message")
			continue
		}
		c.dispatch(msg)
	}
}

func (c *WebsocketChannel) dispatch(msg wireMessage) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}

	switch msg.Type {
	case wirePeerJoined:
		c.mu.Lock()
		dup := c.partner == msg.From
		if !dup {
			c.partner = msg.From
		}
		c.mu.Unlock()
		// At most one joined event per partner until it leaves.
		if !dup {
			h.OnUserJoined(msg.From)
		}

	case wirePeerLeft:
		c.mu.Lock()
		c.partner = ""
		c.mu.Unlock()
		h.OnUserLeft(msg.From)

	case wireError:
		h.OnSignalingError(fmt.Errorf("%w: %s", domain.ErrSignalingTransport, msg.Error))

	case string(domain.SignalOffer), string(domain.SignalAnswer), string(domain.SignalCandidate):
		h.OnSignal(domain.Envelope{
			Type: domain.SignalKind(msg.Type),
			Data: msg.Data,
			From: msg.From,
			To:   msg.To,
		})

	default:
		c.log.Debug().Str("type", msg.Type).Msg("unhandled signaling message")
	}
}

func (c *WebsocketChannel) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.log.Warn().Err(err).Msg("signaling ping failed")
				}
				return
			}
		}
	}
}

func (c *WebsocketChannel) emitError(err error) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.OnSignalingError(err)
	}
}
