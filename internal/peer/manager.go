// Package peer wraps a Pion peer connection behind the engine's
// PeerManager port: one live connection per manager, offer/answer/ICE
// negotiation, a chat data channel and local media ownership.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/spinchat/engine/internal/domain"
)

const chatChannelLabel = "chat"

// Manager implements domain.PeerManager on top of pion/webrtc. Exactly one
// peer connection may be alive per manager; CreatePeerConnection tears down
// any prior one before building the next.
type Manager struct {
	api    *pion.API
	source MediaSource
	log    zerolog.Logger

	mu           sync.Mutex
	handler      domain.PeerHandler
	pc           *pion.PeerConnection
	dc           *pion.DataChannel
	media        *LocalMedia
	audioSender  *pion.RTPSender
	videoSender  *pion.RTPSender
	remoteSet    bool
	pending      []domain.ICECandidatePayload
	videoEnabled bool
	audioEnabled bool
	prevReceived uint32
	prevLost     int32
}

var _ domain.PeerManager = (*Manager)(nil)

// NewManager builds the Pion API (default codecs plus the default
// interceptor set, nack included) and a manager drawing local media from the
// given source.
func NewManager(source MediaSource, log zerolog.Logger) (*Manager, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	reg := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, reg); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(reg),
	)

	return &Manager{
		api:          api,
		source:       source,
		log:          log.With().Str("component", "peer").Logger(),
		videoEnabled: true,
		audioEnabled: true,
	}, nil
}

// SetHandler installs the event receiver. Must be called before
// CreatePeerConnection.
func (m *Manager) SetHandler(h domain.PeerHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// InitializeMedia acquires camera and microphone from the media source.
// A no-op while media is already held. Denial surfaces as
// domain.ErrMediaAccessDenied.
func (m *Manager) InitializeMedia(ctx context.Context, c domain.MediaConstraints) error {
	m.mu.Lock()
	if m.media != nil {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	media, err := m.source.Capture(ctx, c)
	if err != nil {
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			return err
		}
		return fmt.Errorf("capture local media: %w", err)
	}

	m.mu.Lock()
	if m.media != nil {
		// A concurrent call captured first; release the duplicate.
		m.mu.Unlock()
		media.Release()
		return nil
	}
	m.media = media
	h := m.handler
	m.mu.Unlock()

	m.log.Info().Str("stream", media.StreamID()).Msg("local media acquired")
	if h != nil {
		h.OnLocalStream(media)
	}
	return nil
}

// CreatePeerConnection builds a fresh connection bound to the given server
// set, binds the held local media and opens the chat data channel. Any prior
// connection is discarded first.
func (m *Manager) CreatePeerConnection(servers []domain.ICEServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeConnLocked()

	var iceServers []pion.ICEServer
	for _, s := range servers {
		srv := pion.ICEServer{URLs: []string{s.URL}}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		iceServers = append(iceServers, srv)
	}

	pc, err := m.api.NewPeerConnection(pion.Configuration{
		ICEServers:   iceServers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	if m.media != nil {
		if m.media.Audio != nil {
			sender, err := pc.AddTrack(m.media.Audio)
			if err != nil {
				pc.Close()
				return fmt.Errorf("add audio track: %w", err)
			}
			m.audioSender = sender
		}
		if m.media.Video != nil {
			sender, err := pc.AddTrack(m.media.Video)
			if err != nil {
				pc.Close()
				return fmt.Errorf("add video track: %w", err)
			}
			m.videoSender = sender
		}
	}

	// Negotiated channel with a fixed ID so both sides open the same one
	// without waiting for OnDataChannel.
	negotiated := true
	var channelID uint16
	dc, err := pc.CreateDataChannel(chatChannelLabel, &pion.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &channelID,
	})
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}

	m.pc = pc
	m.dc = dc
	m.remoteSet = false
	m.pending = nil
	m.prevReceived = 0
	m.prevLost = 0

	m.wireCallbacksLocked(pc, dc)
	m.applyTogglesLocked()

	m.log.Info().Int("ice_servers", len(iceServers)).Msg("peer connection created")
	return nil
}

func (m *Manager) wireCallbacksLocked(pc *pion.PeerConnection, dc *pion.DataChannel) {
	dc.OnOpen(func() {
		m.log.Debug().Msg("chat channel open")
	})
	dc.OnClose(func() {
		m.log.Debug().Msg("chat channel closed")
	})
	dc.OnMessage(func(raw pion.DataChannelMessage) {
		var msg domain.ChatMessage
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			m.log.Warn().Err(err).Msg("malformed chat message")
			return
		}
		msg.IsOwn = false
		if h := m.currentHandler(); h != nil {
			h.OnChatMessage(msg)
		}
	})

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			m.log.Debug().Msg("ICE gathering complete")
			return
		}
		init := c.ToJSON()
		if isLoopback(init.Candidate) {
			return
		}
		payload := domain.ICECandidatePayload{Candidate: init.Candidate}
		if init.SDPMid != nil {
			payload.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			payload.SDPMLineIndex = int(*init.SDPMLineIndex)
		}
		if h := m.currentHandler(); h != nil {
			h.OnLocalCandidate(payload)
		}
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		m.log.Debug().Str("state", state.String()).Msg("connection state changed")
		if h := m.currentHandler(); h != nil {
			h.OnConnectionStateChange(mapConnectionState(state))
		}
	})

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		m.log.Info().
			Str("kind", track.Kind().String()).
			Str("codec", track.Codec().MimeType).
			Msg("remote track")
		if h := m.currentHandler(); h != nil {
			h.OnRemoteStream(&RemoteStream{track: track})
		}
	})
}

// CreateOffer produces an SDP offer and installs it as the local
// description.
func (m *Manager) CreateOffer() (domain.SDPPayload, error) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: no peer connection", domain.ErrNegotiation)
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: create offer: %v", domain.ErrNegotiation, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: set local description: %v", domain.ErrNegotiation, err)
	}
	return domain.SDPPayload{Type: "offer", SDP: offer.SDP}, nil
}

// CreateAnswer produces an SDP answer. Requires a remote offer to be set
// first.
func (m *Manager) CreateAnswer() (domain.SDPPayload, error) {
	m.mu.Lock()
	pc := m.pc
	remoteSet := m.remoteSet
	m.mu.Unlock()
	if pc == nil || !remoteSet {
		return domain.SDPPayload{}, fmt.Errorf("%w: no remote offer set", domain.ErrNegotiation)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: create answer: %v", domain.ErrNegotiation, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("%w: set local description: %v", domain.ErrNegotiation, err)
	}
	return domain.SDPPayload{Type: "answer", SDP: answer.SDP}, nil
}

// SetRemoteDescription applies the remote offer or answer, then flushes any
// candidates that arrived early.
func (m *Manager) SetRemoteDescription(sdp domain.SDPPayload) error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("%w: no peer connection", domain.ErrNegotiation)
	}

	desc := pion.SessionDescription{Type: pion.NewSDPType(sdp.Type), SDP: sdp.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote description: %v", domain.ErrNegotiation, err)
	}

	m.mu.Lock()
	m.remoteSet = true
	queued := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, c := range queued {
		if err := m.addCandidate(pc, c); err != nil {
			m.log.Warn().Err(err).Msg("queued candidate rejected")
		}
	}
	return nil
}

// AddICECandidate applies a remote candidate, queueing it when the remote
// description is not yet set.
func (m *Manager) AddICECandidate(c domain.ICECandidatePayload) error {
	m.mu.Lock()
	pc := m.pc
	if pc == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: no peer connection", domain.ErrNegotiation)
	}
	if !m.remoteSet {
		m.pending = append(m.pending, c)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.addCandidate(pc, c)
}

func (m *Manager) addCandidate(pc *pion.PeerConnection, c domain.ICECandidatePayload) error {
	mid := c.SDPMid
	idx := uint16(c.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}
	if err := pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("%w: add ice candidate: %v", domain.ErrNegotiation, err)
	}
	return nil
}

// SendChat writes a chat message onto the data channel. A channel that is
// not yet open is logged and swallowed; callers should only send once
// connected.
func (m *Manager) SendChat(msg domain.ChatMessage) error {
	m.mu.Lock()
	dc := m.dc
	m.mu.Unlock()

	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		m.log.Debug().Str("id", msg.ID).Msg("chat channel not open, message dropped")
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}
	if err := dc.Send(data); err != nil {
		m.log.Warn().Err(err).Str("id", msg.ID).Msg("chat send failed")
	}
	return nil
}

// ToggleVideo enables or disables the outgoing video track without
// renegotiation.
func (m *Manager) ToggleVideo(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoEnabled = enabled
	m.applyTogglesLocked()
}

// ToggleAudio enables or disables the outgoing audio track without
// renegotiation.
func (m *Manager) ToggleAudio(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioEnabled = enabled
	m.applyTogglesLocked()
}

func (m *Manager) applyTogglesLocked() {
	if m.videoSender != nil && m.media != nil {
		if m.videoEnabled {
			if err := m.videoSender.ReplaceTrack(m.media.Video); err != nil {
				m.log.Warn().Err(err).Msg("enable video failed")
			}
		} else {
			if err := m.videoSender.ReplaceTrack(nil); err != nil {
				m.log.Warn().Err(err).Msg("disable video failed")
			}
		}
	}
	if m.audioSender != nil && m.media != nil {
		if m.audioEnabled {
			if err := m.audioSender.ReplaceTrack(m.media.Audio); err != nil {
				m.log.Warn().Err(err).Msg("enable audio failed")
			}
		} else {
			if err := m.audioSender.ReplaceTrack(nil); err != nil {
				m.log.Warn().Err(err).Msg("disable audio failed")
			}
		}
	}
}

// CloseConnection discards the connection and data channel but keeps the
// acquired local media for a later connection. Safe to call repeatedly.
func (m *Manager) CloseConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeConnLocked()
}

// Cleanup releases media tracks and closes the data channel and connection.
// Safe to call repeatedly.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeConnLocked()
	if m.media != nil {
		m.media.Release()
		m.media = nil
	}
}

func (m *Manager) closeConnLocked() {
	if m.dc != nil {
		m.dc.Close()
		m.dc = nil
	}
	if m.pc != nil {
		m.pc.Close()
		m.pc = nil
	}
	m.audioSender = nil
	m.videoSender = nil
	m.remoteSet = false
	m.pending = nil
}

func (m *Manager) currentHandler() domain.PeerHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

func mapConnectionState(state pion.PeerConnectionState) domain.PeerConnectionState {
	switch state {
	case pion.PeerConnectionStateNew:
		return domain.PeerStateNew
	case pion.PeerConnectionStateConnecting:
		return domain.PeerStateConnecting
	case pion.PeerConnectionStateConnected:
		return domain.PeerStateConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.PeerStateDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.PeerStateFailed
	default:
		return domain.PeerStateClosed
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
