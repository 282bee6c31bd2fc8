package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/spinchat/engine/internal/domain"
)

const roomCapacity = 2

// Hub is the in-process signaling variant: it loops envelopes between
// simulated peers with the same wire shape as the websocket transport. Used
// for offline mode and tests.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*MemoryChannel
	log   zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[string]*MemoryChannel),
		log:   log.With().Str("component", "signaling-hub").Logger(),
	}
}

// NewChannel creates an unjoined channel bound to this hub.
func (h *Hub) NewChannel() *MemoryChannel {
	c := &MemoryChannel{
		hub:   h,
		log:   h.log,
		queue: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	return c
}

func (h *Hub) join(c *MemoryChannel, roomID, selfID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[roomID]
	if room == nil {
		room = make(map[string]*MemoryChannel)
		h.rooms[roomID] = room
	}
	if len(room) >= roomCapacity {
		return fmt.Errorf("%w: room %s is full", domain.ErrSignalingTransport, roomID)
	}
	room[selfID] = c

	// Only existing members learn of the newcomer; the newcomer discovers
	// its partner from the incoming offer. Keeps exactly one side offering.
	for id, other := range room {
		if id == selfID {
			continue
		}
		peer := selfID
		other.enqueue(func(sh domain.SignalingHandler) { sh.OnUserJoined(peer) })
	}
	return nil
}

func (h *Hub) leave(c *MemoryChannel, roomID, selfID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[roomID]
	if room == nil || room[selfID] != c {
		return
	}
	delete(room, selfID)
	if len(room) == 0 {
		delete(h.rooms, roomID)
		return
	}
	for _, other := range room {
		peer := selfID
		other.enqueue(func(sh domain.SignalingHandler) { sh.OnUserLeft(peer) })
	}
}

func (h *Hub) route(roomID, from string, env domain.Envelope) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.rooms[roomID]
	if room == nil {
		return fmt.Errorf("%w: room %s not found", domain.ErrSignalingTransport, roomID)
	}
	env.From = from
	delivered := false
	for id, other := range room {
		if id == from {
			continue
		}
		if env.To != "" && env.To != id {
			continue
		}
		e := env
		other.enqueue(func(sh domain.SignalingHandler) { sh.OnSignal(e) })
		delivered = true
	}
	if !delivered {
		h.log.Debug().Str("room", roomID).Str("to", env.To).Msg("no recipient for signal")
	}
	return nil
}

// MemoryChannel implements domain.SignalingChannel against a Hub. Events are
// dispatched by a single goroutine per channel, so per-sender ordering is
// preserved and handlers never re-enter the caller.
type MemoryChannel struct {
	hub *Hub
	log zerolog.Logger

	mu      sync.Mutex
	handler domain.SignalingHandler
	roomID  string
	selfID  string
	started bool
	closed  bool

	queue chan func()
	done  chan struct{}
}

var _ domain.SignalingChannel = (*MemoryChannel)(nil)

// SetHandler installs the event receiver. Must be called before Connect.
func (c *MemoryChannel) SetHandler(h domain.SignalingHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connect starts the dispatch loop. Always succeeds for the in-memory
// variant.
func (c *MemoryChannel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrChannelClosed
	}
	if !c.started {
		c.started = true
		go c.dispatchLoop()
	}
	return nil
}

// Disconnect leaves any joined room and stops the dispatch loop.
func (c *MemoryChannel) Disconnect() {
	c.LeaveRoom()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.started {
		close(c.done)
	}
}

// JoinRoom registers this channel in the given room, leaving any prior room
// first.
func (c *MemoryChannel) JoinRoom(roomID, selfID string) error {
	c.LeaveRoom()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrChannelClosed
	}
	c.roomID = roomID
	c.selfID = selfID
	c.mu.Unlock()

	if err := c.hub.join(c, roomID, selfID); err != nil {
		c.mu.Lock()
		c.roomID, c.selfID = "", ""
		c.mu.Unlock()
		return err
	}
	return nil
}

// LeaveRoom deregisters from the current room, if any.
func (c *MemoryChannel) LeaveRoom() {
	c.mu.Lock()
	roomID, selfID := c.roomID, c.selfID
	c.roomID, c.selfID = "", ""
	c.mu.Unlock()

	if roomID != "" {
		c.hub.leave(c, roomID, selfID)
	}
}

// Send routes an envelope to the other occupant of the room.
func (c *MemoryChannel) Send(env domain.Envelope) error {
	c.mu.Lock()
	roomID, selfID := c.roomID, c.selfID
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return domain.ErrChannelClosed
	}
	if roomID == "" {
		return fmt.Errorf("%w: not in a room", domain.ErrSignalingTransport)
	}
	return c.hub.route(roomID, selfID, env)
}

func (c *MemoryChannel) enqueue(fn func(domain.SignalingHandler)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Never blocks: enqueue is called while the hub lock is held, and the
	// dispatch goroutine may itself be inside a hub call.
	select {
	case c.queue <- func() {
		c.mu.Lock()
		h := c.handler
		c.mu.Unlock()
		if h != nil {
			fn(h)
		}
	}:
	case <-c.done:
	default:
		c.log.Warn().Msg("dispatch queue full, event dropped")
	}
}

func (c *MemoryChannel) dispatchLoop() {
	for {
		select {
		case fn := <-c.queue:
			fn()
		case <-c.done:
			return
		}
	}
}
