package domain

import "time"

// ConnectionStatus is the lifecycle phase of a video chat session.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// CameraPermission tracks the local media permission decision.
type CameraPermission int

const (
	CameraPending CameraPermission = iota
	CameraGranted
	CameraDenied
)

func (p CameraPermission) String() string {
	switch p {
	case CameraPending:
		return "pending"
	case CameraGranted:
		return "granted"
	case CameraDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// QualityLevel classifies the health of the active peer link.
type QualityLevel int

const (
	QualityDisconnected QualityLevel = iota
	QualityPoor
	QualityFair
	QualityGood
	QualityExcellent
)

func (q QualityLevel) String() string {
	switch q {
	case QualityDisconnected:
		return "disconnected"
	case QualityPoor:
		return "poor"
	case QualityFair:
		return "fair"
	case QualityGood:
		return "good"
	case QualityExcellent:
		return "excellent"
	default:
		return "unknown"
	}
}

// SessionState is the read-only snapshot the UI renders. It is mutated only
// by the session orchestrator in response to collaborator callbacks.
type SessionState struct {
	Status               ConnectionStatus
	PartnerConnected     bool
	CameraPermission     CameraPermission
	ReconnectAttempts    uint
	IsVideoEnabled       bool
	IsAudioEnabled       bool
	IsRemoteAudioEnabled bool
	ConnectionQuality    QualityLevel
}

// NewSessionState returns the initial state for a fresh session.
func NewSessionState() SessionState {
	return SessionState{
		Status:               StatusDisconnected,
		CameraPermission:     CameraPending,
		IsVideoEnabled:       true,
		IsAudioEnabled:       true,
		IsRemoteAudioEnabled: true,
		ConnectionQuality:    QualityDisconnected,
	}
}

// ChatMessage is one text message exchanged over the peer data channel.
// Immutable once created; lifetime bounded to the session.
type ChatMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsOwn     bool      `json:"isOwn"`
}
