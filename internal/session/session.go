// Package session is the video chat orchestrator: the state machine the UI
// drives, composed from the signaling channel, the peer manager, the quality
// monitor and the matchmaking collaborator.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spinchat/engine/internal/domain"
	"github.com/spinchat/engine/internal/ice"
	"github.com/spinchat/engine/internal/quality"
)

const (
	defaultSearchTimeout    = 10 * time.Second
	defaultReconnectBackoff = 2 * time.Second
	defaultMaxReconnects    = 3
)

// Config tunes the session policies. The zero value selects the defaults
// above and a development ICE resolution.
type Config struct {
	Environment ice.Environment
	Device      ice.DeviceHint
	Link        ice.LinkHint
	Resolver    ice.Resolver

	SearchTimeout    time.Duration
	ReconnectBackoff time.Duration
	MaxReconnects    uint
	QualityInterval  time.Duration
}

func (c *Config) applyDefaults() {
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = defaultSearchTimeout
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
}

// Callbacks is the subscription surface for the UI layer. Any entry may be
// nil. Callbacks are invoked outside the session lock, in event order, and
// may call back into the session.
type Callbacks struct {
	OnStateChange  func(domain.SessionState)
	OnMessage      func(domain.ChatMessage)
	OnNotice       func(text string)
	OnError        func(err error)
	OnLocalStream  func(h domain.StreamHandle)
	OnRemoteStream func(h domain.StreamHandle)
}

// Session owns one 1:1 video chat at a time. All state is instance-owned;
// collaborator callbacks are serialized through the session mutex so
// transitions apply one at a time in arrival order.
type Session struct {
	cfg     Config
	cb      Callbacks
	channel domain.SignalingChannel
	peers   domain.PeerManager
	rooms   domain.RoomProvider
	monitor *quality.Monitor
	log     zerolog.Logger

	mu           sync.Mutex
	state        domain.SessionState
	messages     []domain.ChatMessage
	unread       int
	roomID       string
	selfID       string
	partnerID    string
	epoch        uint64
	searchTimer  *time.Timer
	backoffTimer *time.Timer
	pending      []func()
}

// New wires a session to its collaborators and installs itself as their
// event handler.
func New(channel domain.SignalingChannel, peers domain.PeerManager, rooms domain.RoomProvider, cfg Config, cb Callbacks, log zerolog.Logger) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:     cfg,
		cb:      cb,
		channel: channel,
		peers:   peers,
		rooms:   rooms,
		log:     log.With().Str("component", "session").Logger(),
		state:   domain.NewSessionState(),
	}
	s.monitor = quality.NewMonitor(peers, cfg.QualityInterval, log)
	channel.SetHandler(s)
	peers.SetHandler(s)
	return s
}

var (
	_ domain.SignalingHandler = (*Session)(nil)
	_ domain.PeerHandler      = (*Session)(nil)
)

// Start acquires media if needed, joins a fresh matchmaking room and begins
// searching for a partner. A denied camera permission is terminal for this
// call; the session stays Disconnected until the caller retries.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Status != domain.StatusDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("session already active (%s)", s.state.Status)
	}
	s.epoch++
	epoch := s.epoch
	constraints := s.cfg.Resolver.Constraints(s.cfg.Device, s.cfg.Link)
	s.mu.Unlock()

	if err := s.peers.InitializeMedia(ctx, constraints); err != nil {
		s.mu.Lock()
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			s.state.CameraPermission = domain.CameraDenied
			s.queueStateLocked()
		}
		s.queueErrorLocked(err)
		s.mu.Unlock()
		s.flush()
		return err
	}

	s.mu.Lock()
	if s.state.CameraPermission != domain.CameraGranted {
		s.state.CameraPermission = domain.CameraGranted
		s.queueStateLocked()
	}
	s.mu.Unlock()
	s.flush()

	if err := s.channel.Connect(ctx); err != nil {
		s.reportError(err)
		return err
	}

	assignment, err := s.rooms.NextRoom(ctx)
	if err != nil {
		err = fmt.Errorf("%w: matchmaking: %v", domain.ErrSignalingTransport, err)
		s.reportError(err)
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch || s.state.Status != domain.StatusDisconnected {
		// The session was ended or restarted while we were setting up.
		s.mu.Unlock()
		return nil
	}
	s.messages = nil
	s.unread = 0
	s.roomID = assignment.RoomID
	s.selfID = assignment.PeerID
	s.partnerID = ""
	s.state.Status = domain.StatusConnecting
	s.queueStateLocked()
	s.searchTimer = time.AfterFunc(s.cfg.SearchTimeout, func() { s.searchTimedOut(epoch) })
	s.mu.Unlock()
	s.flush()

	s.log.Info().Str("room", assignment.RoomID).Str("self", assignment.PeerID).Msg("searching for partner")

	if err := s.channel.JoinRoom(assignment.RoomID, assignment.PeerID); err != nil {
		s.mu.Lock()
		s.cancelTimersLocked()
		s.roomID, s.selfID = "", ""
		s.state.Status = domain.StatusDisconnected
		s.queueStateLocked()
		s.queueErrorLocked(err)
		s.mu.Unlock()
		s.flush()
		return err
	}
	return nil
}

// EndChat leaves the room, tears everything down and resets the session to
// its initial state. Callable from any state, idempotent.
func (s *Session) EndChat() {
	s.mu.Lock()
	s.epoch++
	s.cancelTimersLocked()
	s.roomID, s.selfID, s.partnerID = "", "", ""
	s.messages = nil
	s.unread = 0
	initial := domain.NewSessionState()
	if s.state != initial {
		s.state = initial
		s.queueStateLocked()
	}
	s.mu.Unlock()

	s.monitor.Stop()
	s.channel.LeaveRoom()
	s.peers.Cleanup()
	s.flush()
}

// NextPartner ends the current chat and immediately searches a new room.
func (s *Session) NextPartner(ctx context.Context) error {
	s.EndChat()
	return s.Start(ctx)
}

// Close shuts the session down for good, including its signaling transport.
func (s *Session) Close() {
	s.EndChat()
	s.channel.Disconnect()
}

// SendMessage appends an own chat message and forwards it over the peer data
// channel. Blank or whitespace-only text is ignored.
func (s *Session) SendMessage(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: time.Now(),
		IsOwn:     true,
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.queueMessageLocked(msg)
	s.mu.Unlock()
	s.flush()

	if err := s.peers.SendChat(msg); err != nil {
		s.log.Warn().Err(err).Msg("chat forward failed")
	}
}

// ToggleVideo flips the local video flag and applies it to the outgoing
// track. Connection state is unaffected.
func (s *Session) ToggleVideo() {
	s.mu.Lock()
	s.state.IsVideoEnabled = !s.state.IsVideoEnabled
	enabled := s.state.IsVideoEnabled
	s.queueStateLocked()
	s.mu.Unlock()
	s.peers.ToggleVideo(enabled)
	s.flush()
}

// ToggleAudio flips the local audio flag and applies it to the outgoing
// track.
func (s *Session) ToggleAudio() {
	s.mu.Lock()
	s.state.IsAudioEnabled = !s.state.IsAudioEnabled
	enabled := s.state.IsAudioEnabled
	s.queueStateLocked()
	s.mu.Unlock()
	s.peers.ToggleAudio(enabled)
	s.flush()
}

// ToggleRemoteAudio flips the local-only mute of the inbound stream. Never
// communicated to the partner; the rendering sink honours the flag.
func (s *Session) ToggleRemoteAudio() {
	s.mu.Lock()
	s.state.IsRemoteAudioEnabled = !s.state.IsRemoteAudioEnabled
	s.queueStateLocked()
	s.mu.Unlock()
	s.flush()
}

// State returns a snapshot of the session state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the chat history.
func (s *Session) Messages() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// UnreadCount reports messages received since the last MarkRead.
func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// MarkRead clears the unread counter.
func (s *Session) MarkRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = 0
}

// Partner returns the current partner identifier, empty when none.
func (s *Session) Partner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partnerID
}
