package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinchat/engine/internal/domain"
	"github.com/spinchat/engine/internal/matchmaking"
	"github.com/spinchat/engine/internal/signaling"
)

func (p *fakePeers) peerHandler() domain.PeerHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler
}

func (p *fakePeers) remoteDescTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, len(p.remoteDescs))
	for i, d := range p.remoteDescs {
		types[i] = d.Type
	}
	return types
}

// Two sessions paired through the in-memory hub complete the full
// offer/answer handshake and exchange chat, with only the media plane
// faked out.
func TestSessionsNegotiateOverHub(t *testing.T) {
	hub := signaling.NewHub(zerolog.Nop())
	rooms := &matchmaking.Local{RoomID: "lobby"}
	cfg := Config{SearchTimeout: time.Second, QualityInterval: time.Hour}

	peersA := &fakePeers{}
	peersB := &fakePeers{}
	recA := &recorder{}
	recB := &recorder{}

	a := New(hub.NewChannel(), peersA, rooms, cfg, recA.callbacks(), zerolog.Nop())
	b := New(hub.NewChannel(), peersB, rooms, cfg, recB.callbacks(), zerolog.Nop())
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	// A joined first, so A offers and B answers.
	require.Eventually(t, func() bool {
		return len(peersA.remoteDescTypes()) == 1 && len(peersB.remoteDescTypes()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"answer"}, peersA.remoteDescTypes())
	assert.Equal(t, []string{"offer"}, peersB.remoteDescTypes())
	assert.NotEmpty(t, a.Partner())
	assert.NotEmpty(t, b.Partner())

	// Media starts flowing on both ends.
	peersA.peerHandler().OnRemoteStream(fakeStream("b-media"))
	peersB.peerHandler().OnRemoteStream(fakeStream("a-media"))

	require.Eventually(t, func() bool {
		return a.State().Status == domain.StatusConnected && b.State().Status == domain.StatusConnected
	}, time.Second, 5*time.Millisecond)

	// Chat rides the data channel; the hub is not involved anymore.
	sentBefore := peersA.chatCount()
	a.SendMessage("hi there")
	assert.Equal(t, sentBefore+1, peersA.chatCount())

	peersB.peerHandler().OnChatMessage(domain.ChatMessage{ID: "m1", Text: "hi there"})
	require.Len(t, b.Messages(), 1)
	assert.Equal(t, 1, b.UnreadCount())
}
