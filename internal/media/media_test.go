package media

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
)

type countingCapturer struct {
	inner SampleCapturer
	calls []Constraints
}

func (c *countingCapturer) Capture(ctx context.Context, constraints Constraints) (*LocalMedia, error) {
	c.calls = append(c.calls, constraints)
	return c.inner.Capture(ctx, constraints)
}

func TestCaptureWithFallbackPrimarySucceeds(t *testing.T) {
	t.Parallel()

	capturer := &countingCapturer{}
	constraints := Constraints{Audio: true, Video: true, Width: 1280, Height: 720, FrameRate: 30}
	local, err := CaptureWithFallback(context.Background(), capturer, constraints)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	defer local.Close()
	if len(capturer.calls) != 1 {
		t.Fatalf("expected a single capture attempt, got %d", len(capturer.calls))
	}
	if local.Track(webrtc.RTPCodecTypeAudio) == nil || local.Track(webrtc.RTPCodecTypeVideo) == nil {
		t.Fatal("expected audio and video tracks")
	}
}

func TestCaptureWithFallbackRetriesMinimalOnce(t *testing.T) {
	t.Parallel()

	capturer := &countingCapturer{inner: SampleCapturer{FailPrimary: true}}
	constraints := Constraints{Audio: true, Video: true, Width: 1280, Height: 720, FrameRate: 30}
	local, err := CaptureWithFallback(context.Background(), capturer, constraints)
	if err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	defer local.Close()
	if len(capturer.calls) != 2 {
		t.Fatalf("expected exactly one retry, got %d attempts", len(capturer.calls))
	}
	retry := capturer.calls[1]
	if retry.Width != 0 || retry.Height != 0 || retry.FrameRate != 0 {
		t.Fatalf("retry must use minimal constraints, got %+v", retry)
	}
	if !retry.Audio || !retry.Video {
		t.Fatalf("retry must keep the kind booleans, got %+v", retry)
	}
}

func TestCaptureWithFallbackSurfacesFinalFailure(t *testing.T) {
	t.Parallel()

	capturer := &countingCapturer{inner: SampleCapturer{FailAll: true}}
	_, err := CaptureWithFallback(context.Background(), capturer, Constraints{Audio: true})
	if !errors.Is(err, ErrCaptureUnavailable) {
		t.Fatalf("expected capture failure, got %v", err)
	}
	if len(capturer.calls) != 2 {
		t.Fatalf("expected exactly two attempts, got %d", len(capturer.calls))
	}
}

func TestAudioOnlyConstraints(t *testing.T) {
	t.Parallel()

	local, err := (&SampleCapturer{}).Capture(context.Background(), Constraints{Audio: true})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	defer local.Close()
	if local.Track(webrtc.RTPCodecTypeVideo) != nil {
		t.Fatal("video track captured for audio-only constraints")
	}
	if local.Track(webrtc.RTPCodecTypeAudio) == nil {
		t.Fatal("missing audio track")
	}
}

func TestTrackToggleMutatesOnlyEnabledFlag(t *testing.T) {
	t.Parallel()

	local, err := (&SampleCapturer{}).Capture(context.Background(), Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	defer local.Close()

	track := local.Track(webrtc.RTPCodecTypeVideo)
	underlying := track.Local()
	if !track.Enabled() {
		t.Fatal("tracks must start enabled")
	}
	track.SetEnabled(false)
	if track.Enabled() {
		t.Fatal("toggle did not take")
	}
	if track.Local() != underlying {
		t.Fatal("toggle must not replace the underlying track")
	}
}

type fakeRemoteTrack struct {
	kind webrtc.RTPCodecType
	id   string
}

func (f fakeRemoteTrack) Kind() webrtc.RTPCodecType { return f.kind }

func TestRemoteAggregateAccumulatesByKind(t *testing.T) {
	t.Parallel()

	agg := NewRemoteAggregate()
	audio := fakeRemoteTrack{kind: webrtc.RTPCodecTypeAudio, id: "a1"}
	agg.Add(audio)

	// A video track from a later negotiation round must not displace
	// the flowing audio track.
	video := fakeRemoteTrack{kind: webrtc.RTPCodecTypeVideo, id: "v1"}
	agg.Add(video)

	if agg.Len() != 2 {
		t.Fatalf("expected 2 kinds, got %d", agg.Len())
	}
	if got := agg.Track(webrtc.RTPCodecTypeAudio); got != RemoteTrack(audio) {
		t.Fatalf("audio track displaced: %#v", got)
	}

	// Same-kind arrival replaces only that kind.
	video2 := fakeRemoteTrack{kind: webrtc.RTPCodecTypeVideo, id: "v2"}
	agg.Add(video2)
	if got := agg.Track(webrtc.RTPCodecTypeVideo); got != RemoteTrack(video2) {
		t.Fatalf("expected replacement by kind, got %#v", got)
	}
	if got := agg.Track(webrtc.RTPCodecTypeAudio); got != RemoteTrack(audio) {
		t.Fatal("audio track lost on video replacement")
	}

	agg.Clear()
	if agg.Len() != 0 {
		t.Fatal("clear must discard all tracks")
	}
}
