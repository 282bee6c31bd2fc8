package peer

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinchat/engine/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&SyntheticSource{StreamID: "test"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(m.Cleanup)
	return m
}

func TestCreateOfferWithoutConnection(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateOffer()
	assert.ErrorIs(t, err, domain.ErrNegotiation)
}

func TestCreateAnswerBeforeRemoteOffer(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreatePeerConnection(nil))

	_, err := m.CreateAnswer()
	assert.ErrorIs(t, err, domain.ErrNegotiation)
}

func TestAddCandidateWithoutConnection(t *testing.T) {
	m := newTestManager(t)

	err := m.AddICECandidate(domain.ICECandidatePayload{Candidate: "candidate:1"})
	assert.ErrorIs(t, err, domain.ErrNegotiation)
}

func TestCandidateQueuedUntilRemoteDescription(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreatePeerConnection(nil))

	// Arrives before the remote description: queued, not an error.
	err := m.AddICECandidate(domain.ICECandidatePayload{Candidate: "candidate:1"})
	assert.NoError(t, err)

	m.mu.Lock()
	assert.Len(t, m.pending, 1)
	m.mu.Unlock()
}

func TestOfferAnswerExchange(t *testing.T) {
	offerer := newTestManager(t)
	answerer := newTestManager(t)

	require.NoError(t, offerer.CreatePeerConnection(nil))
	require.NoError(t, answerer.CreatePeerConnection(nil))

	offer, err := offerer.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.NotEmpty(t, offer.SDP)

	require.NoError(t, answerer.SetRemoteDescription(offer))
	answer, err := answerer.CreateAnswer()
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)

	require.NoError(t, offerer.SetRemoteDescription(answer))
}

func TestCreatePeerConnectionReplacesPrior(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.CreatePeerConnection(nil))

	m.mu.Lock()
	first := m.pc
	m.mu.Unlock()

	require.NoError(t, m.CreatePeerConnection(nil))

	m.mu.Lock()
	second := m.pc
	m.mu.Unlock()
	assert.NotSame(t, first, second)
}

func TestSendChatWithoutChannel(t *testing.T) {
	m := newTestManager(t)

	// Not fatal: logged and dropped.
	err := m.SendChat(domain.ChatMessage{ID: "m1", Text: "hello"})
	assert.NoError(t, err)
}

func TestCleanupIdempotent(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.InitializeMedia(context.Background(), domain.MediaConstraints{FrameRate: 30}))
	require.NoError(t, m.CreatePeerConnection(nil))

	m.Cleanup()
	m.Cleanup()

	m.mu.Lock()
	assert.Nil(t, m.pc)
	assert.Nil(t, m.media)
	m.mu.Unlock()
}

func TestCloseConnectionKeepsMedia(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.InitializeMedia(context.Background(), domain.MediaConstraints{FrameRate: 30}))
	require.NoError(t, m.CreatePeerConnection(nil))

	m.CloseConnection()

	m.mu.Lock()
	assert.Nil(t, m.pc)
	assert.NotNil(t, m.media)
	m.mu.Unlock()
}

func TestSampleWithoutConnection(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Sample()
	assert.Error(t, err)
}

func TestInitializeMediaIdempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.InitializeMedia(ctx, domain.MediaConstraints{FrameRate: 30}))
	m.mu.Lock()
	first := m.media
	m.mu.Unlock()

	require.NoError(t, m.InitializeMedia(ctx, domain.MediaConstraints{FrameRate: 30}))
	m.mu.Lock()
	assert.Same(t, first, m.media)
	m.mu.Unlock()
}

// rendezvousSource holds every Capture call until the test releases them,
// forcing captures to overlap.
type rendezvousSource struct {
	arrived chan struct{}
	proceed chan struct{}

	mu       sync.Mutex
	releases int
}

func (s *rendezvousSource) Capture(context.Context, domain.MediaConstraints) (*LocalMedia, error) {
	s.arrived <- struct{}{}
	<-s.proceed
	return NewLocalMedia("rendezvous", nil, nil, func() {
		s.mu.Lock()
		s.releases++
		s.mu.Unlock()
	}), nil
}

func (s *rendezvousSource) releaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

func TestInitializeMediaConcurrentCapturesKeepOne(t *testing.T) {
	source := &rendezvousSource{arrived: make(chan struct{}, 2), proceed: make(chan struct{})}
	m, err := NewManager(source, zerolog.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.InitializeMedia(context.Background(), domain.MediaConstraints{}))
		}()
	}
	<-source.arrived
	<-source.arrived
	close(source.proceed)
	wg.Wait()

	m.mu.Lock()
	assert.NotNil(t, m.media)
	m.mu.Unlock()
	assert.Equal(t, 1, source.releaseCount(), "the losing capture is released")

	m.Cleanup()
	assert.Equal(t, 2, source.releaseCount())
}

func TestInitializeMediaDenied(t *testing.T) {
	m, err := NewManager(DeniedSource{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(m.Cleanup)

	err = m.InitializeMedia(context.Background(), domain.MediaConstraints{})
	assert.ErrorIs(t, err, domain.ErrMediaAccessDenied)
}

func TestSyntheticSourceRelease(t *testing.T) {
	source := &SyntheticSource{StreamID: "synthetic-test"}
	media, err := source.Capture(context.Background(), domain.MediaConstraints{FrameRate: 15})
	require.NoError(t, err)

	assert.Equal(t, "synthetic-test", media.StreamID())
	assert.NotNil(t, media.Audio)
	assert.NotNil(t, media.Video)

	media.Release()
	media.Release() // second release must not panic
}
