package session

import (
	"encoding/json"
	"time"

	"github.com/spinchat/engine/internal/domain"
)

// Signaling events.

// OnUserJoined records the partner, creates the peer connection and sends it
// an offer. Only meaningful while searching.
func (s *Session) OnUserJoined(peerID string) {
	s.mu.Lock()
	if s.state.Status != domain.StatusConnecting || s.partnerID != "" {
		s.mu.Unlock()
		return
	}
	s.partnerID = peerID
	s.cancelSearchTimerLocked()
	selfID := s.selfID
	servers := s.cfg.Resolver.Resolve(s.cfg.Environment)
	s.mu.Unlock()

	s.log.Info().Str("partner", peerID).Msg("partner joined, offering")

	if err := s.peers.CreatePeerConnection(servers); err != nil {
		s.negotiationFailed(err)
		return
	}
	offer, err := s.peers.CreateOffer()
	if err != nil {
		s.negotiationFailed(err)
		return
	}
	if err := s.channel.Send(domain.NewOfferEnvelope(offer, selfID, peerID)); err != nil {
		s.reportError(err)
	}
}

// OnUserLeft transitions straight to Disconnected: the partner left
// intentionally, so no reconnection is attempted and the attempt counter is
// left untouched.
func (s *Session) OnUserLeft(peerID string) {
	s.mu.Lock()
	if s.state.Status == domain.StatusDisconnected || s.partnerID == "" {
		s.mu.Unlock()
		return
	}
	if peerID != "" && peerID != s.partnerID {
		s.mu.Unlock()
		return
	}
	s.cancelTimersLocked()
	s.partnerID = ""
	s.state.PartnerConnected = false
	s.state.Status = domain.StatusDisconnected
	s.state.ConnectionQuality = domain.QualityDisconnected
	s.queueStateLocked()
	s.queueNoticeLocked("partner disconnected")
	s.mu.Unlock()

	s.log.Info().Str("partner", peerID).Msg("partner left")
	s.monitor.Stop()
	s.peers.CloseConnection()
	s.flush()
}

// OnSignal feeds remote offers, answers and candidates into the peer
// manager.
func (s *Session) OnSignal(env domain.Envelope) {
	switch env.Type {
	case domain.SignalOffer:
		s.handleRemoteOffer(env)
	case domain.SignalAnswer:
		var sdp domain.SDPPayload
		if err := json.Unmarshal(env.Data, &sdp); err != nil {
			s.log.Warn().Err(err).Msg("malformed answer payload")
			return
		}
		if err := s.peers.SetRemoteDescription(sdp); err != nil {
			s.negotiationFailed(err)
		}
	case domain.SignalCandidate:
		var c domain.ICECandidatePayload
		if err := json.Unmarshal(env.Data, &c); err != nil {
			s.log.Warn().Err(err).Msg("malformed candidate payload")
			return
		}
		if err := s.peers.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("remote candidate rejected")
		}
	default:
		s.log.Debug().Str("type", string(env.Type)).Msg("unhandled signal")
	}
}

// handleRemoteOffer is the answerer path: the offer also identifies the
// partner for the side that joined the room first.
func (s *Session) handleRemoteOffer(env domain.Envelope) {
	var sdp domain.SDPPayload
	if err := json.Unmarshal(env.Data, &sdp); err != nil {
		s.log.Warn().Err(err).Msg("malformed offer payload")
		return
	}

	s.mu.Lock()
	if s.state.Status == domain.StatusDisconnected {
		s.mu.Unlock()
		return
	}
	if s.partnerID == "" {
		s.partnerID = env.From
		s.cancelSearchTimerLocked()
		s.log.Info().Str("partner", env.From).Msg("partner offer received")
	}
	selfID, partnerID := s.selfID, s.partnerID
	servers := s.cfg.Resolver.Resolve(s.cfg.Environment)
	s.mu.Unlock()

	// A fresh connection per offer also covers the partner re-offering
	// after its reconnect backoff.
	if err := s.peers.CreatePeerConnection(servers); err != nil {
		s.negotiationFailed(err)
		return
	}
	if err := s.peers.SetRemoteDescription(sdp); err != nil {
		s.negotiationFailed(err)
		return
	}
	answer, err := s.peers.CreateAnswer()
	if err != nil {
		s.negotiationFailed(err)
		return
	}
	if err := s.channel.Send(domain.NewAnswerEnvelope(answer, selfID, partnerID)); err != nil {
		s.reportError(err)
	}
}

// OnSignalingError surfaces transport failures to the UI without touching
// the session state or chat history.
func (s *Session) OnSignalingError(err error) {
	s.log.Warn().Err(err).Msg("signaling error")
	s.reportError(err)
}

// Peer events.

// OnLocalStream hands the local media binding to the UI sink.
func (s *Session) OnLocalStream(h domain.StreamHandle) {
	if s.cb.OnLocalStream != nil {
		s.cb.OnLocalStream(h)
	}
}

// OnRemoteStream marks the partner as connected: media is flowing, so the
// session leaves Connecting (or Reconnecting), resets the attempt counter
// and starts quality monitoring.
func (s *Session) OnRemoteStream(h domain.StreamHandle) {
	s.mu.Lock()
	transition := s.state.Status == domain.StatusConnecting || s.state.Status == domain.StatusReconnecting
	if transition {
		s.cancelTimersLocked()
		s.state.PartnerConnected = true
		s.state.Status = domain.StatusConnected
		s.state.ReconnectAttempts = 0
		s.queueStateLocked()
	}
	forward := s.state.Status == domain.StatusConnected
	s.mu.Unlock()

	if transition {
		s.log.Info().Str("stream", h.StreamID()).Msg("remote media flowing")
		s.monitor.Start(s.qualityChanged)
	}
	if forward && s.cb.OnRemoteStream != nil {
		s.cb.OnRemoteStream(h)
	}
	s.flush()
}

// OnLocalCandidate relays a locally gathered candidate to the partner.
func (s *Session) OnLocalCandidate(c domain.ICECandidatePayload) {
	s.mu.Lock()
	selfID, partnerID := s.selfID, s.partnerID
	s.mu.Unlock()
	if partnerID == "" {
		return
	}
	if err := s.channel.Send(domain.NewCandidateEnvelope(c, selfID, partnerID)); err != nil {
		s.log.Debug().Err(err).Msg("candidate relay failed")
	}
}

// OnConnectionStateChange reacts to transport-level failure; everything else
// is driven by OnRemoteStream.
func (s *Session) OnConnectionStateChange(state domain.PeerConnectionState) {
	switch state {
	case domain.PeerStateDisconnected, domain.PeerStateFailed:
		s.connectionFailed()
	default:
	}
}

// OnChatMessage records an inbound chat message.
func (s *Session) OnChatMessage(msg domain.ChatMessage) {
	msg.IsOwn = false
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.unread++
	s.queueMessageLocked(msg)
	s.mu.Unlock()
	s.flush()
}

// Quality monitor callback.

func (s *Session) qualityChanged(level domain.QualityLevel) {
	s.mu.Lock()
	if s.state.Status != domain.StatusConnected && s.state.Status != domain.StatusReconnecting {
		s.mu.Unlock()
		return
	}
	s.state.ConnectionQuality = level
	s.queueStateLocked()
	s.mu.Unlock()
	s.flush()
}

// Failure and reconnection handling.

// connectionFailed drives the bounded reconnection policy: each failure
// increments the attempt counter; once it reaches the maximum the session
// gives up and disconnects. A failure while still Connecting counts too,
// once negotiation has started: the search timer is already cancelled at
// that point, so this is the only path out of Connecting.
func (s *Session) connectionFailed() {
	s.mu.Lock()
	active := s.state.Status == domain.StatusConnected ||
		s.state.Status == domain.StatusReconnecting ||
		(s.state.Status == domain.StatusConnecting && s.partnerID != "")
	if !active {
		s.mu.Unlock()
		return
	}

	s.state.ReconnectAttempts++
	if s.state.ReconnectAttempts >= s.cfg.MaxReconnects {
		s.cancelTimersLocked()
		s.partnerID = ""
		s.state.PartnerConnected = false
		s.state.Status = domain.StatusDisconnected
		s.state.ConnectionQuality = domain.QualityDisconnected
		s.queueStateLocked()
		s.queueErrorLocked(domain.ErrReconnectionExhausted)
		s.queueNoticeLocked("reconnection failed")
		s.mu.Unlock()

		s.log.Warn().Msg("reconnection attempts exhausted")
		s.monitor.Stop()
		s.peers.CloseConnection()
		s.flush()
		return
	}

	attempt := s.state.ReconnectAttempts
	s.state.Status = domain.StatusReconnecting
	s.queueStateLocked()
	epoch := s.epoch
	s.cancelBackoffTimerLocked()
	s.backoffTimer = time.AfterFunc(s.cfg.ReconnectBackoff, func() { s.attemptReconnect(epoch) })
	s.mu.Unlock()

	s.log.Warn().Uint("attempt", attempt).Msg("connection lost, reconnecting")
	s.flush()
}

// negotiationFailed maps an SDP/ICE error onto the reconnection path when a
// session is live, or a plain failure report while still setting up.
func (s *Session) negotiationFailed(err error) {
	s.log.Warn().Err(err).Msg("negotiation failed")

	s.mu.Lock()
	live := s.state.PartnerConnected || s.state.Status == domain.StatusReconnecting
	settingUp := s.state.Status == domain.StatusConnecting
	if !live && !settingUp {
		s.mu.Unlock()
		return
	}
	if live {
		s.mu.Unlock()
		s.connectionFailed()
		return
	}
	s.cancelTimersLocked()
	s.partnerID = ""
	s.state.Status = domain.StatusDisconnected
	s.queueStateLocked()
	s.queueErrorLocked(err)
	s.mu.Unlock()

	s.peers.CloseConnection()
	s.flush()
}

func (s *Session) attemptReconnect(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state.Status != domain.StatusReconnecting || s.partnerID == "" {
		s.mu.Unlock()
		return
	}
	selfID, partnerID := s.selfID, s.partnerID
	attempt := s.state.ReconnectAttempts
	servers := s.cfg.Resolver.Resolve(s.cfg.Environment)
	s.mu.Unlock()

	s.log.Info().Uint("attempt", attempt).Str("partner", partnerID).Msg("re-offering")

	if err := s.peers.CreatePeerConnection(servers); err != nil {
		s.connectionFailed()
		return
	}
	offer, err := s.peers.CreateOffer()
	if err != nil {
		s.connectionFailed()
		return
	}
	if err := s.channel.Send(domain.NewOfferEnvelope(offer, selfID, partnerID)); err != nil {
		s.reportError(err)
	}
}

func (s *Session) searchTimedOut(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state.Status != domain.StatusConnecting || s.partnerID != "" {
		s.mu.Unlock()
		return
	}
	s.searchTimer = nil
	s.roomID, s.selfID = "", ""
	s.state.Status = domain.StatusDisconnected
	s.queueStateLocked()
	s.queueErrorLocked(domain.ErrPartnerTimeout)
	s.queueNoticeLocked("no partners found")
	s.mu.Unlock()

	s.log.Info().Msg("search timed out")
	s.channel.LeaveRoom()
	s.flush()
}

// Timer and notification plumbing.

func (s *Session) cancelSearchTimerLocked() {
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
}

func (s *Session) cancelBackoffTimerLocked() {
	if s.backoffTimer != nil {
		s.backoffTimer.Stop()
		s.backoffTimer = nil
	}
}

func (s *Session) cancelTimersLocked() {
	s.cancelSearchTimerLocked()
	s.cancelBackoffTimerLocked()
}

func (s *Session) queueStateLocked() {
	if s.cb.OnStateChange == nil {
		return
	}
	snapshot := s.state
	s.pending = append(s.pending, func() { s.cb.OnStateChange(snapshot) })
}

func (s *Session) queueMessageLocked(msg domain.ChatMessage) {
	if s.cb.OnMessage == nil {
		return
	}
	s.pending = append(s.pending, func() { s.cb.OnMessage(msg) })
}

func (s *Session) queueNoticeLocked(text string) {
	if s.cb.OnNotice == nil {
		return
	}
	s.pending = append(s.pending, func() { s.cb.OnNotice(text) })
}

func (s *Session) queueErrorLocked(err error) {
	if s.cb.OnError == nil {
		return
	}
	s.pending = append(s.pending, func() { s.cb.OnError(err) })
}

func (s *Session) reportError(err error) {
	s.mu.Lock()
	s.queueErrorLocked(err)
	s.mu.Unlock()
	s.flush()
}

// flush runs queued notifications outside the session lock, preserving
// queue order.
func (s *Session) flush() {
	s.mu.Lock()
	fns := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
