// Package ice selects STUN/TURN endpoints and media capture profiles for
// the current runtime environment. Pure configuration logic, no I/O.
package ice

import (
	"strings"

	"github.com/spinchat/engine/internal/domain"
)

// Environment distinguishes the endpoint tables to draw from.
type Environment int

const (
	Development Environment = iota
	Production
)

// DeviceHint indicates the class of device the session runs on.
type DeviceHint int

const (
	Desktop DeviceHint = iota
	Mobile
)

// LinkHint is an optional measured downlink signal. The zero value means
// "unknown", which is treated as a fast link.
type LinkHint struct {
	EffectiveType string  // "slow-2g", "2g", "3g", "4g"
	DownlinkMbps  float64 // 0 = unmeasured
}

// fallbackServer keeps the resolver from ever returning an empty set.
var fallbackServer = domain.ICEServer{URL: "stun:stun.l.google.com:19302"}

var developmentServers = []domain.ICEServer{
	{URL: "stun:stun.l.google.com:19302"},
	{URL: "stun:stun1.l.google.com:19302"},
}

// Resolver builds ICE server sets from static tables plus relay credentials
// supplied through configuration.
type Resolver struct {
	// Relay endpoints for production. Entries with an incomplete
	// username/credential pair are filtered during resolution.
	RelayServers []domain.ICEServer
}

// Resolve returns the ICE server set for the given environment. The result
// is never empty and never contains a half-credentialed entry.
func (r Resolver) Resolve(env Environment) []domain.ICEServer {
	var servers []domain.ICEServer

	switch env {
	case Production:
		// Relay first for NAT-traversal success, reflection as backup.
		servers = append(servers, r.RelayServers...)
		servers = append(servers, developmentServers...)
	default:
		servers = append(servers, developmentServers...)
	}

	filtered := servers[:0]
	for _, s := range servers {
		if s.URL == "" {
			continue
		}
		if (s.Username == "") != (s.Credential == "") {
			continue
		}
		filtered = append(filtered, s)
	}

	if len(filtered) == 0 {
		return []domain.ICEServer{fallbackServer}
	}

	out := make([]domain.ICEServer, len(filtered))
	copy(out, filtered)
	return out
}

// Capture profiles, from full quality down to constrained links.
var (
	fullProfile = domain.MediaConstraints{
		Width: 1280, Height: 720, FrameRate: 30, AudioSampleRate: 48000,
	}
	mobileProfile = domain.MediaConstraints{
		Width: 960, Height: 540, FrameRate: 24, AudioSampleRate: 44100,
	}
	slowLinkProfile = domain.MediaConstraints{
		Width: 640, Height: 360, FrameRate: 15, AudioSampleRate: 22050,
	}
)

// Constraints picks the capture profile for the given device and link hints.
// A slow link wins over the device class.
func (r Resolver) Constraints(device DeviceHint, link LinkHint) domain.MediaConstraints {
	if slowLink(link) {
		return slowLinkProfile
	}
	if device == Mobile {
		return mobileProfile
	}
	return fullProfile
}

func slowLink(link LinkHint) bool {
	switch strings.ToLower(link.EffectiveType) {
	case "slow-2g", "2g", "3g":
		return true
	}
	return link.DownlinkMbps > 0 && link.DownlinkMbps < 1.5
}
