package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// SampleCapturer produces synthetic sample-backed tracks. It serves
// the headless CLI and tests, where no capture hardware exists.
type SampleCapturer struct {
	// FailPrimary simulates a device that rejects ideal constraints
	// but accepts the minimal retry.
	FailPrimary bool
	// FailAll simulates an unavailable or denied device.
	FailAll bool
}

var _ Capturer = (*SampleCapturer)(nil)

func (s *SampleCapturer) Capture(ctx context.Context, constraints Constraints) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.FailAll {
		return nil, ErrCaptureUnavailable
	}
	if s.FailPrimary && (constraints.Width > 0 || constraints.Height > 0 || constraints.FrameRate > 0) {
		return nil, ErrCaptureUnavailable
	}

	var tracks []*Track
	if constraints.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", "pairline",
		)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, NewTrack(webrtc.RTPCodecTypeAudio, audio))
	}
	if constraints.Video {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "pairline",
		)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, NewTrack(webrtc.RTPCodecTypeVideo, video))
	}
	return NewLocalMedia(tracks, nil), nil
}
