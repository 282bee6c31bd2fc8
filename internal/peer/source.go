package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/spinchat/engine/internal/domain"
)

// MediaSource provides local capture. Implementations map a denied
// camera/microphone permission to domain.ErrMediaAccessDenied.
type MediaSource interface {
	Capture(ctx context.Context, c domain.MediaConstraints) (*LocalMedia, error)
}

// LocalMedia is the manager-owned pair of local tracks. The UI references it
// through the StreamHandle it receives on OnLocalStream; only the manager
// releases it.
type LocalMedia struct {
	id      string
	Audio   pion.TrackLocal
	Video   pion.TrackLocal
	release func()

	once sync.Once
}

// StreamID implements domain.StreamHandle.
func (m *LocalMedia) StreamID() string { return m.id }

// Release stops the underlying capture. Idempotent.
func (m *LocalMedia) Release() {
	m.once.Do(func() {
		if m.release != nil {
			m.release()
		}
	})
}

// NewLocalMedia wraps externally captured tracks. release may be nil.
func NewLocalMedia(id string, audio, video pion.TrackLocal, release func()) *LocalMedia {
	return &LocalMedia{id: id, Audio: audio, Video: video, release: release}
}

// RemoteStream is the opaque handle for an inbound track the UI binds to its
// video sink.
type RemoteStream struct {
	track *pion.TrackRemote
}

// StreamID implements domain.StreamHandle.
func (r *RemoteStream) StreamID() string { return r.track.StreamID() }

// Track exposes the underlying remote track for the rendering sink.
func (r *RemoteStream) Track() *pion.TrackRemote { return r.track }

// SyntheticSource produces sample tracks fed with generated frames. Used by
// the offline demo and anywhere no real capture device exists.
type SyntheticSource struct {
	StreamID string
}

var _ MediaSource = (*SyntheticSource)(nil)

// Capture builds a VP8 video track and an Opus audio track and starts a
// feeder goroutine writing dummy frames at the constrained rate.
func (s *SyntheticSource) Capture(_ context.Context, c domain.MediaConstraints) (*LocalMedia, error) {
	id := s.StreamID
	if id == "" {
		id = "synthetic"
	}

	video, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8},
		"video", id,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}
	audio, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus},
		"audio", id,
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	frameRate := c.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}
	stop := make(chan struct{})
	go feedTracks(video, audio, frameRate, stop)

	return NewLocalMedia(id, audio, video, func() { close(stop) }), nil
}

func feedTracks(video, audio *pion.TrackLocalStaticSample, frameRate int, stop <-chan struct{}) {
	frameDur := time.Second / time.Duration(frameRate)
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	// Minimal placeholder payloads; enough to drive RTP flow.
	videoFrame := []byte{0x10, 0x00, 0x00, 0x9d, 0x01, 0x2a}
	audioFrame := []byte{0xf8, 0xff, 0xfe}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = video.WriteSample(media.Sample{Data: videoFrame, Duration: frameDur})
			_ = audio.WriteSample(media.Sample{Data: audioFrame, Duration: frameDur})
		}
	}
}

// DeniedSource always refuses capture. Stands in for a user rejecting the
// camera permission prompt.
type DeniedSource struct{}

var _ MediaSource = (*DeniedSource)(nil)

func (DeniedSource) Capture(context.Context, domain.MediaConstraints) (*LocalMedia, error) {
	return nil, domain.ErrMediaAccessDenied
}
