// Package media abstracts local capture and remote track aggregation.
//
// The engine never talks to capture hardware directly: a Capturer
// hands it opaque track handles, and remote tracks are accumulated
// into a composite aggregate keyed by kind so that tracks from later
// negotiation rounds never displace ones that are already flowing.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrCaptureUnavailable indicates the capture device is absent, busy,
// or permission was denied.
var ErrCaptureUnavailable = errors.New("media capture unavailable")

// Constraints describes a capture request. Width, Height, and
// FrameRate are ideals; zero means unconstrained.
type Constraints struct {
	Audio     bool
	Video     bool
	Width     int
	Height    int
	FrameRate int
}

// Minimal strips the ideal dimensions, keeping only the kind booleans.
// Used for the single constraint-relaxation retry after a failed
// primary capture.
func (c Constraints) Minimal() Constraints {
	return Constraints{Audio: c.Audio, Video: c.Video}
}

// Track is one owned local track. Toggling mutates only the enabled
// flag; the underlying track is never removed from the peer
// connection, which preserves the negotiated media line.
type Track struct {
	kind  webrtc.RTPCodecType
	local webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
}

// NewTrack wraps a pion local track. Tracks start enabled.
func NewTrack(kind webrtc.RTPCodecType, local webrtc.TrackLocal) *Track {
	return &Track{kind: kind, local: local, enabled: true}
}

func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }

// Local returns the handle to attach to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// LocalMedia is the set of tracks produced by one capture request.
type LocalMedia struct {
	tracks  []*Track
	release func()

	mu     sync.Mutex
	closed bool
}

// NewLocalMedia bundles captured tracks with their release hook.
func NewLocalMedia(tracks []*Track, release func()) *LocalMedia {
	return &LocalMedia{tracks: tracks, release: release}
}

// Tracks returns the owned tracks in capture order.
func (m *LocalMedia) Tracks() []*Track { return m.tracks }

// Track returns the track of the given kind, or nil.
func (m *LocalMedia) Track(kind webrtc.RTPCodecType) *Track {
	for _, t := range m.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// Close stops and releases all tracks. Idempotent and best-effort.
func (m *LocalMedia) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.release != nil {
		m.release()
	}
}

// Capturer acquires local media. Implementations wrap real devices or
// synthetic sources; the engine treats the result as opaque.
type Capturer interface {
	Capture(ctx context.Context, constraints Constraints) (*LocalMedia, error)
}

// CaptureWithFallback attempts the primary constraints and retries
// exactly once with the minimal boolean constraints before giving up.
func CaptureWithFallback(ctx context.Context, capturer Capturer, constraints Constraints) (*LocalMedia, error) {
	local, err := capturer.Capture(ctx, constraints)
	if err == nil {
		return local, nil
	}
	local, retryErr := capturer.Capture(ctx, constraints.Minimal())
	if retryErr != nil {
		return nil, fmt.Errorf("capture failed (primary: %v): %w", err, retryErr)
	}
	return local, nil
}

// RemoteTrack is the playable handle of one inbound track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	Kind() webrtc.RTPCodecType
}

// RemoteAggregate accumulates remote tracks by kind across negotiation
// rounds. A video track added after audio is already flowing must not
// discard the audio track, and vice versa.
type RemoteAggregate struct {
	mu     sync.Mutex
	tracks map[webrtc.RTPCodecType]RemoteTrack
}

func NewRemoteAggregate() *RemoteAggregate {
	return &RemoteAggregate{tracks: make(map[webrtc.RTPCodecType]RemoteTrack)}
}

// Add records a newly arrived remote track, replacing only the entry
// of the same kind.
func (a *RemoteAggregate) Add(track RemoteTrack) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracks[track.Kind()] = track
}

// Track returns the current track of the given kind, or nil.
func (a *RemoteAggregate) Track(kind webrtc.RTPCodecType) RemoteTrack {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tracks[kind]
}

// Len returns the number of distinct kinds currently held.
func (a *RemoteAggregate) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tracks)
}

// Clear discards all accumulated tracks.
func (a *RemoteAggregate) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tracks = make(map[webrtc.RTPCodecType]RemoteTrack)
}
