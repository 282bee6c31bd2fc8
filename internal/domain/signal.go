package domain

import "encoding/json"

// SignalKind discriminates the signaling message union.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// Envelope is the transport-independent signaling message shape. Data holds
// an SDPPayload for offers and answers, an ICECandidatePayload for
// candidates. Envelopes are transient and consumed exactly once.
type Envelope struct {
	Type SignalKind      `json:"type"`
	Data json.RawMessage `json:"data"`
	From string          `json:"from,omitempty"`
	To   string          `json:"to,omitempty"`
}

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// ICEServer holds one STUN/TURN endpoint. Username and Credential are either
// both set or both empty; the resolver drops entries that violate this.
type ICEServer struct {
	URL        string `json:"url"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

// RoomAssignment is what the matchmaking collaborator hands back: an opaque
// room identifier plus the session-unique peer identifier to join under.
type RoomAssignment struct {
	RoomID string `json:"roomId"`
	PeerID string `json:"peerId"`
}

// NewOfferEnvelope wraps an SDP offer for transmission to a peer.
func NewOfferEnvelope(sdp SDPPayload, from, to string) Envelope {
	data, _ := json.Marshal(sdp)
	return Envelope{Type: SignalOffer, Data: data, From: from, To: to}
}

// NewAnswerEnvelope wraps an SDP answer for transmission to a peer.
func NewAnswerEnvelope(sdp SDPPayload, from, to string) Envelope {
	data, _ := json.Marshal(sdp)
	return Envelope{Type: SignalAnswer, Data: data, From: from, To: to}
}

// NewCandidateEnvelope wraps a local ICE candidate for transmission.
func NewCandidateEnvelope(c ICECandidatePayload, from, to string) Envelope {
	data, _ := json.Marshal(c)
	return Envelope{Type: SignalCandidate, Data: data, From: from, To: to}
}
