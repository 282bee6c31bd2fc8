package domain

// MediaConstraints carries the target capture profile the resolver selects
// for the current device and link conditions.
type MediaConstraints struct {
	Width           int
	Height          int
	FrameRate       int
	AudioSampleRate int
}

// QualitySample is one reading of the transport statistics. Ephemeral:
// produced every monitoring tick and consumed immediately.
type QualitySample struct {
	PacketLossPct   float64
	RoundTripTimeMs float64
	BandwidthKbps   float64
}

// StreamHandle is the opaque media binding the UI attaches to a video sink.
// The sink renders it; the peer manager owns and releases the underlying
// tracks.
type StreamHandle interface {
	StreamID() string
}
