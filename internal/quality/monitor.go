// Package quality samples transport statistics on a fixed interval and
// classifies the peer link into a quality tier.
package quality

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/spinchat/engine/internal/domain"
)

// DefaultInterval is the sampling period.
const DefaultInterval = 5 * time.Second

// StatsSource produces one statistics reading per call.
type StatsSource interface {
	Sample() (domain.QualitySample, error)
}

// Monitor periodically samples a StatsSource and reports tier changes.
// Start and Stop are idempotent; after Stop no further ticks are scheduled
// and the source is no longer referenced.
type Monitor struct {
	source   StatsSource
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	last    domain.QualityLevel
	started bool
}

// NewMonitor creates a stopped monitor. interval <= 0 selects
// DefaultInterval.
func NewMonitor(source StatsSource, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		source:   source,
		interval: interval,
		log:      log.With().Str("component", "quality").Logger(),
		last:     domain.QualityDisconnected,
	}
}

// Start begins periodic sampling, invoking onChange whenever the classified
// tier differs from the previous one. A running monitor is left as is.
func (m *Monitor) Start(onChange func(domain.QualityLevel)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	go m.run(m.stop, onChange)
}

// Stop halts sampling. Safe to call repeatedly or on a never-started
// monitor.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stop)
	m.last = domain.QualityDisconnected
}

func (m *Monitor) run(stop <-chan struct{}, onChange func(domain.QualityLevel)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sample, err := m.source.Sample()
			if err != nil {
				// Sampling failures are not escalated; the tier simply
				// does not change this tick.
				m.log.Debug().Err(err).Msg("stats sample failed")
				continue
			}
			level := Classify(sample)

			m.mu.Lock()
			changed := level != m.last && m.started
			if changed {
				m.last = level
			}
			m.mu.Unlock()

			if changed {
				m.log.Info().
					Str("level", level.String()).
					Float64("loss_pct", sample.PacketLossPct).
					Float64("rtt_ms", sample.RoundTripTimeMs).
					Float64("bandwidth_kbps", sample.BandwidthKbps).
					Msg("connection quality changed")
				if onChange != nil {
					onChange(level)
				}
			}
		}
	}
}

// Classify maps one sample onto a quality tier. A zero bandwidth reading
// means the transport reported no estimate and the bandwidth criterion is
// skipped.
func Classify(s domain.QualitySample) domain.QualityLevel {
	bw := func(min float64) bool {
		return s.BandwidthKbps == 0 || s.BandwidthKbps > min
	}
	switch {
	case s.PacketLossPct < 1 && s.RoundTripTimeMs < 100 && bw(500):
		return domain.QualityExcellent
	case s.PacketLossPct < 3 && s.RoundTripTimeMs < 200 && bw(300):
		return domain.QualityGood
	case s.PacketLossPct < 5 && s.RoundTripTimeMs < 400 && bw(150):
		return domain.QualityFair
	default:
		return domain.QualityPoor
	}
}
