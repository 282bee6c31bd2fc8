package domain

import "context"

// SignalingChannel is the capability set for exchanging connection-setup
// messages through a room. Two variants exist: a websocket transport and an
// in-memory hub for offline use and tests. Failures surface through the
// handler's OnSignalingError, never as panics into caller code.
type SignalingChannel interface {
	Connect(ctx context.Context) error
	Disconnect()
	// JoinRoom is idempotent: joining while already in a room leaves the
	// prior room first.
	JoinRoom(roomID, selfID string) error
	LeaveRoom()
	Send(env Envelope) error
	SetHandler(h SignalingHandler)
}

// SignalingHandler receives channel events. Per-sender message ordering is
// preserved; OnUserJoined fires at most once per partner until a matching
// OnUserLeft.
type SignalingHandler interface {
	OnSignal(env Envelope)
	OnUserJoined(peerID string)
	OnUserLeft(peerID string)
	OnSignalingError(err error)
}

// PeerConnectionState mirrors the underlying transport's connection
// lifecycle, reduced to what the session reacts to.
type PeerConnectionState int

const (
	PeerStateNew PeerConnectionState = iota
	PeerStateConnecting
	PeerStateConnected
	PeerStateDisconnected
	PeerStateFailed
	PeerStateClosed
)

func (s PeerConnectionState) String() string {
	switch s {
	case PeerStateNew:
		return "new"
	case PeerStateConnecting:
		return "connecting"
	case PeerStateConnected:
		return "connected"
	case PeerStateDisconnected:
		return "disconnected"
	case PeerStateFailed:
		return "failed"
	case PeerStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerManager owns at most one live peer connection and its media bindings.
type PeerManager interface {
	// SetHandler installs the event receiver. Must be called before
	// CreatePeerConnection.
	SetHandler(h PeerHandler)
	// InitializeMedia acquires camera and microphone. Denial is reported as
	// ErrMediaAccessDenied; repeated calls while media is held are no-ops.
	InitializeMedia(ctx context.Context, c MediaConstraints) error
	// CreatePeerConnection tears down any prior connection before building
	// a new one bound to the given server set.
	CreatePeerConnection(servers []ICEServer) error
	CreateOffer() (SDPPayload, error)
	CreateAnswer() (SDPPayload, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddICECandidate(c ICECandidatePayload) error
	// SendChat writes onto the peer data channel. A closed channel is
	// logged and swallowed, not fatal.
	SendChat(msg ChatMessage) error
	ToggleVideo(enabled bool)
	ToggleAudio(enabled bool)
	// Sample reads the current transport statistics for quality monitoring.
	Sample() (QualitySample, error)
	// CloseConnection discards the peer connection and data channel while
	// keeping the acquired local media. Idempotent.
	CloseConnection()
	// Cleanup releases media, data channel and connection. Idempotent.
	Cleanup()
}

// PeerHandler receives peer connection events destined for the orchestrator.
type PeerHandler interface {
	OnLocalStream(h StreamHandle)
	OnRemoteStream(h StreamHandle)
	OnLocalCandidate(c ICECandidatePayload)
	OnConnectionStateChange(s PeerConnectionState)
	OnChatMessage(msg ChatMessage)
}

// RoomProvider is the matchmaking collaborator boundary: it hands out fresh
// room assignments and knows nothing else about the session.
type RoomProvider interface {
	NextRoom(ctx context.Context) (RoomAssignment, error)
}
