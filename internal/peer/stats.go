package peer

import (
	"errors"

	pion "github.com/pion/webrtc/v4"

	"github.com/spinchat/engine/internal/domain"
)

var errNoConnection = errors.New("no active peer connection")

// Sample reads the transport statistics of the live connection: round-trip
// time and available bitrate from the selected candidate pair, packet loss
// from the inbound RTP counters since the previous sample. BandwidthKbps is
// zero when the transport does not report a bitrate estimate; the quality
// monitor treats zero as unmeasured.
func (m *Manager) Sample() (domain.QualitySample, error) {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return domain.QualitySample{}, errNoConnection
	}

	report := pc.GetStats()

	var sample domain.QualitySample
	var received uint32
	var lost int32
	pairSeen := false

	for _, s := range report {
		switch st := s.(type) {
		case pion.ICECandidatePairStats:
			if st.State != pion.StatsICECandidatePairStateSucceeded {
				continue
			}
			pairSeen = true
			sample.RoundTripTimeMs = st.CurrentRoundTripTime * 1000
			sample.BandwidthKbps = st.AvailableOutgoingBitrate / 1000
		case pion.InboundRTPStreamStats:
			received += st.PacketsReceived
			lost += st.PacketsLost
		}
	}

	if !pairSeen {
		return domain.QualitySample{}, errNoConnection
	}

	m.mu.Lock()
	dReceived := int64(received) - int64(m.prevReceived)
	dLost := int64(lost) - int64(m.prevLost)
	m.prevReceived = received
	m.prevLost = lost
	m.mu.Unlock()

	if dReceived < 0 || dLost < 0 {
		// Counters reset, typically after renegotiation.
		dReceived, dLost = 0, 0
	}
	if total := dReceived + dLost; total > 0 {
		sample.PacketLossPct = float64(dLost) / float64(total) * 100
	}
	return sample, nil
}
