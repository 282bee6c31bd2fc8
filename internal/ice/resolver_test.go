package ice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spinchat/engine/internal/domain"
)

func TestResolveDevelopmentIncludesStun(t *testing.T) {
	servers := Resolver{}.Resolve(Development)

	require.NotEmpty(t, servers)
	found := false
	for _, s := range servers {
		if s.URL == "stun:stun.l.google.com:19302" {
			found = true
		}
	}
	assert.True(t, found, "development resolution must include a STUN endpoint")
}

func TestResolveProductionPrefersRelay(t *testing.T) {
	r := Resolver{RelayServers: []domain.ICEServer{
		{URL: "turn:relay.spinchat.io:3478", Username: "u", Credential: "c"},
	}}

	servers := r.Resolve(Production)

	require.NotEmpty(t, servers)
	assert.Equal(t, "turn:relay.spinchat.io:3478", servers[0].URL, "relay endpoints come first")
}

func TestResolveFiltersIncompleteCredentials(t *testing.T) {
	tests := []struct {
		name   string
		server domain.ICEServer
		kept   bool
	}{
		{"complete pair", domain.ICEServer{URL: "turn:a:3478", Username: "u", Credential: "c"}, true},
		{"username only", domain.ICEServer{URL: "turn:b:3478", Username: "u"}, false},
		{"credential only", domain.ICEServer{URL: "turn:c:3478", Credential: "c"}, false},
		{"no credentials", domain.ICEServer{URL: "stun:d:3478"}, true},
		{"empty url", domain.ICEServer{Username: "u", Credential: "c"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolver{RelayServers: []domain.ICEServer{tt.server}}
			servers := r.Resolve(Production)

			require.NotEmpty(t, servers)
			kept := false
			for _, s := range servers {
				if s.URL == tt.server.URL {
					kept = true
				}
			}
			assert.Equal(t, tt.kept, kept)
		})
	}
}

func TestResolveNeverReturnsHalfCredentialedEntry(t *testing.T) {
	r := Resolver{RelayServers: []domain.ICEServer{
		{URL: "turn:a:3478", Username: "u"},
		{URL: "turn:b:3478", Credential: "c"},
	}}

	for _, env := range []Environment{Development, Production} {
		for _, s := range r.Resolve(env) {
			assert.Equal(t, s.Username == "", s.Credential == "",
				"endpoint %s carries a half credential pair", s.URL)
		}
	}
}

func TestConstraintsProfiles(t *testing.T) {
	tests := []struct {
		name   string
		device DeviceHint
		link   LinkHint
		want   domain.MediaConstraints
	}{
		{"desktop fast", Desktop, LinkHint{}, domain.MediaConstraints{Width: 1280, Height: 720, FrameRate: 30, AudioSampleRate: 48000}},
		{"mobile", Mobile, LinkHint{}, domain.MediaConstraints{Width: 960, Height: 540, FrameRate: 24, AudioSampleRate: 44100}},
		{"desktop slow effective type", Desktop, LinkHint{EffectiveType: "3g"}, domain.MediaConstraints{Width: 640, Height: 360, FrameRate: 15, AudioSampleRate: 22050}},
		{"mobile slow downlink", Mobile, LinkHint{DownlinkMbps: 0.8}, domain.MediaConstraints{Width: 640, Height: 360, FrameRate: 15, AudioSampleRate: 22050}},
		{"desktop measured fast", Desktop, LinkHint{EffectiveType: "4g", DownlinkMbps: 10}, domain.MediaConstraints{Width: 1280, Height: 720, FrameRate: 30, AudioSampleRate: 48000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolver{}.Constraints(tt.device, tt.link)
			assert.Equal(t, tt.want, got)
		})
	}
}
