package quality

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinchat/engine/internal/domain"
)

type stubSource struct {
	mu     sync.Mutex
	sample domain.QualitySample
	err    error
	calls  int
}

func (s *stubSource) Sample() (domain.QualitySample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.sample, s.err
}

func (s *stubSource) set(sample domain.QualitySample, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample, s.err = sample, err
}

func (s *stubSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		sample domain.QualitySample
		want   domain.QualityLevel
	}{
		{"excellent", domain.QualitySample{PacketLossPct: 0.5, RoundTripTimeMs: 50, BandwidthKbps: 1000}, domain.QualityExcellent},
		{"good", domain.QualitySample{PacketLossPct: 2, RoundTripTimeMs: 150, BandwidthKbps: 400}, domain.QualityGood},
		{"fair", domain.QualitySample{PacketLossPct: 4, RoundTripTimeMs: 300, BandwidthKbps: 200}, domain.QualityFair},
		{"poor loss", domain.QualitySample{PacketLossPct: 10, RoundTripTimeMs: 50, BandwidthKbps: 1000}, domain.QualityPoor},
		{"poor rtt", domain.QualitySample{PacketLossPct: 0, RoundTripTimeMs: 600, BandwidthKbps: 1000}, domain.QualityPoor},
		{"low bandwidth degrades", domain.QualitySample{PacketLossPct: 0.5, RoundTripTimeMs: 50, BandwidthKbps: 400}, domain.QualityGood},
		{"unmeasured bandwidth skipped", domain.QualitySample{PacketLossPct: 0.5, RoundTripTimeMs: 50}, domain.QualityExcellent},
		{"excellent boundary is exclusive", domain.QualitySample{PacketLossPct: 1, RoundTripTimeMs: 100, BandwidthKbps: 500}, domain.QualityGood},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sample))
		})
	}
}

func TestMonitorReportsChangesOnly(t *testing.T) {
	source := &stubSource{sample: domain.QualitySample{PacketLossPct: 0.1, RoundTripTimeMs: 40, BandwidthKbps: 900}}
	m := NewMonitor(source, 10*time.Millisecond, zerolog.Nop())

	var mu sync.Mutex
	var levels []domain.QualityLevel
	m.Start(func(l domain.QualityLevel) {
		mu.Lock()
		levels = append(levels, l)
		mu.Unlock()
	})
	defer m.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) == 1 && levels[0] == domain.QualityExcellent
	}, time.Second, 5*time.Millisecond)

	// Same tier on following ticks: no further notifications.
	before := source.callCount()
	require.Eventually(t, func() bool { return source.callCount() > before+2 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Len(t, levels, 1)
	mu.Unlock()

	source.set(domain.QualitySample{PacketLossPct: 20, RoundTripTimeMs: 800}, nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) == 2 && levels[1] == domain.QualityPoor
	}, time.Second, 5*time.Millisecond)
}

func TestMonitorTreatsSampleErrorAsNoChange(t *testing.T) {
	source := &stubSource{err: errors.New("stats unavailable")}
	m := NewMonitor(source, 10*time.Millisecond, zerolog.Nop())

	var mu sync.Mutex
	changes := 0
	m.Start(func(domain.QualityLevel) {
		mu.Lock()
		changes++
		mu.Unlock()
	})
	defer m.Stop()

	require.Eventually(t, func() bool { return source.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Zero(t, changes)
	mu.Unlock()
}

func TestMonitorStopHaltsSampling(t *testing.T) {
	source := &stubSource{sample: domain.QualitySample{PacketLossPct: 0.1, RoundTripTimeMs: 40, BandwidthKbps: 900}}
	m := NewMonitor(source, 10*time.Millisecond, zerolog.Nop())

	m.Start(func(domain.QualityLevel) {})
	require.Eventually(t, func() bool { return source.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	m.Stop()

	after := source.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, source.callCount(), after+1, "no ticks scheduled after Stop")
}

func TestMonitorStopIdempotentAndRestartable(t *testing.T) {
	source := &stubSource{sample: domain.QualitySample{PacketLossPct: 0.1, RoundTripTimeMs: 40, BandwidthKbps: 900}}
	m := NewMonitor(source, 10*time.Millisecond, zerolog.Nop())

	m.Stop() // never started
	m.Start(func(domain.QualityLevel) {})
	m.Stop()
	m.Stop()

	var mu sync.Mutex
	got := false
	m.Start(func(l domain.QualityLevel) {
		mu.Lock()
		got = true
		mu.Unlock()
	})
	defer m.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got
	}, time.Second, 5*time.Millisecond)
}
