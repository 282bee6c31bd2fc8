package domain

import "errors"

// Error taxonomy for the connection engine. Session-state-affecting errors
// wrap one of these sentinels so callers can classify with errors.Is.
var (
	// ErrMediaAccessDenied: camera/microphone permission refused. Terminal
	// for the Start call that triggered acquisition.
	ErrMediaAccessDenied = errors.New("media access denied")

	// ErrSignalingTransport: the signaling channel failed. Reported to the
	// UI, never fatal to the session.
	ErrSignalingTransport = errors.New("signaling transport error")

	// ErrNegotiation: an SDP/ICE operation was invoked out of order.
	ErrNegotiation = errors.New("negotiation error")

	// ErrPartnerTimeout: no partner joined within the search window.
	ErrPartnerTimeout = errors.New("no partner found")

	// ErrReconnectionExhausted: all reconnection attempts failed.
	ErrReconnectionExhausted = errors.New("reconnection attempts exhausted")

	// ErrChannelClosed: an operation was attempted on a closed signaling
	// channel.
	ErrChannelClosed = errors.New("signaling channel closed")
)
