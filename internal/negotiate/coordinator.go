// Package negotiate drives offer/answer and candidate exchange for a
// single peer connection attempt.
//
// The coordinator exclusively owns the peer connection handle and the
// local media for the lifetime of one attempt. Description exchange
// and candidate exchange race independently over the signaling
// channel, so candidates that arrive before the remote description is
// applied are queued and drained in arrival order afterwards.
package negotiate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/pairline/pairline/internal/media"
)

// Callbacks are the coordinator's outbound notifications. All run on
// pion callback goroutines; consumers must do their own locking.
type Callbacks struct {
	// OnLocalCandidate fires for every locally gathered ICE candidate.
	OnLocalCandidate func(webrtc.ICECandidateInit)
	// OnConnected fires when the peer connection transport reaches the
	// connected state.
	OnConnected func()
	// OnFailed fires on transport failure or unexpected close.
	OnFailed func()
	// OnRemoteTrack fires after a remote track is added to the
	// aggregate.
	OnRemoteTrack func()
}

// Coordinator negotiates one peer connection attempt.
type Coordinator struct {
	log       *slog.Logger
	capturer  media.Capturer
	callbacks Callbacks
	pc        *webrtc.PeerConnection
	remote    *media.RemoteAggregate

	mu                sync.Mutex
	local             *media.LocalMedia
	remoteDescApplied bool
	pending           []webrtc.ICECandidateInit
	tornDown          bool
}

// New creates the peer connection for one call attempt. The ICE
// server set must be resolved fresh by the caller, since relay
// credentials are time-limited.
func New(iceServers []webrtc.ICEServer, capturer media.Capturer, callbacks Callbacks, log *slog.Logger) (*Coordinator, error) {
	se := webrtc.SettingEngine{
		LoggerFactory: newPionLogBridge(log),
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	c := &Coordinator{
		log:       log,
		capturer:  capturer,
		callbacks: callbacks,
		pc:        pc,
		remote:    media.NewRemoteAggregate(),
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if c.callbacks.OnLocalCandidate != nil {
			c.callbacks.OnLocalCandidate(candidate.ToJSON())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.remote.Add(track)
		c.log.Info("remote track added", "kind", track.Kind().String())
		if c.callbacks.OnRemoteTrack != nil {
			c.callbacks.OnRemoteTrack()
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Info("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			if c.callbacks.OnConnected != nil {
				c.callbacks.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			if c.callbacks.OnFailed != nil {
				c.callbacks.OnFailed()
			}
		}
	})

	return c, nil
}

// Remote returns the composite remote media aggregate.
func (c *Coordinator) Remote() *media.RemoteAggregate { return c.remote }

// LocalMedia returns the owned capture handle, or nil before capture.
func (c *Coordinator) LocalMedia() *media.LocalMedia {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// CreateOffer captures local media, attaches it, and produces the
// local offer. Capture happens before the description is created
// because media-line negotiation depends on the attached tracks.
func (c *Coordinator) CreateOffer(ctx context.Context, constraints media.Constraints) (webrtc.SessionDescription, error) {
	if err := c.captureAndAttach(ctx, constraints); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.releaseLocal()
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.releaseLocal()
		return webrtc.SessionDescription{}, fmt.Errorf("apply local offer: %w", err)
	}
	return offer, nil
}

// CreateAnswer consumes a stored remote offer and produces the local
// answer. Local tracks are attached before the answer is created.
func (c *Coordinator) CreateAnswer(ctx context.Context, offer webrtc.SessionDescription, constraints media.Constraints) (webrtc.SessionDescription, error) {
	if err := c.captureAndAttach(ctx, constraints); err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := c.pc.SetRemoteDescription(offer); err != nil {
		c.releaseLocal()
		return webrtc.SessionDescription{}, fmt.Errorf("apply remote offer: %w", err)
	}
	c.markRemoteDescriptionApplied()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		c.releaseLocal()
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		c.releaseLocal()
		return webrtc.SessionDescription{}, fmt.Errorf("apply local answer: %w", err)
	}
	return answer, nil
}

// ApplyRemoteAnswer applies the peer's answer to our offer, then
// drains any queued candidates.
func (c *Coordinator) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("apply remote answer: %w", err)
	}
	c.markRemoteDescriptionApplied()
	return nil
}

// ApplyRemoteCandidate applies one remote ICE candidate. Candidates
// arriving before the remote description is applied are queued, never
// dropped, and drained in arrival order once it is.
func (c *Coordinator) ApplyRemoteCandidate(candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	if !c.remoteDescApplied {
		c.pending = append(c.pending, candidate)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(candidate); err != nil {
		c.log.Warn("failed to apply remote candidate", "err", err)
	}
}

// markRemoteDescriptionApplied flips the gate and drains the queue in
// arrival order. Per-candidate failures are logged and skipped so one
// bad candidate cannot stall the rest.
func (c *Coordinator) markRemoteDescriptionApplied() {
	c.mu.Lock()
	c.remoteDescApplied = true
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, candidate := range queued {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			c.log.Warn("failed to apply queued candidate", "err", err)
		}
	}
}

// ToggleAudio flips the local audio track's enabled flag and returns
// the new state. The second result is false when there is no audio
// track to toggle.
func (c *Coordinator) ToggleAudio() (bool, bool) {
	return c.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleVideo flips the local video track's enabled flag.
func (c *Coordinator) ToggleVideo() (bool, bool) {
	return c.toggle(webrtc.RTPCodecTypeVideo)
}

func (c *Coordinator) toggle(kind webrtc.RTPCodecType) (bool, bool) {
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()
	if local == nil {
		return false, false
	}
	track := local.Track(kind)
	if track == nil {
		return false, false
	}
	next := !track.Enabled()
	track.SetEnabled(next)
	return next, true
}

// Teardown releases everything the coordinator owns. Each step is
// best-effort: a failure in one must not prevent the next. Idempotent.
func (c *Coordinator) Teardown() {
	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		return
	}
	c.tornDown = true
	local := c.local
	c.local = nil
	c.pending = nil
	c.mu.Unlock()

	if local != nil {
		local.Close()
	}
	if err := c.pc.Close(); err != nil {
		c.log.Warn("peer connection close failed", "err", err)
	}
	c.remote.Clear()
}

// captureAndAttach acquires local media (with the single minimal-
// constraints retry) and attaches every track to the peer connection.
func (c *Coordinator) captureAndAttach(ctx context.Context, constraints media.Constraints) error {
	local, err := media.CaptureWithFallback(ctx, c.capturer, constraints)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.tornDown {
		c.mu.Unlock()
		local.Close()
		return fmt.Errorf("negotiation already torn down")
	}
	c.local = local
	c.mu.Unlock()

	for _, track := range local.Tracks() {
		if _, err := c.pc.AddTrack(track.Local()); err != nil {
			c.releaseLocal()
			return fmt.Errorf("attach %s track: %w", track.Kind(), err)
		}
	}
	return nil
}

func (c *Coordinator) releaseLocal() {
	c.mu.Lock()
	local := c.local
	c.local = nil
	c.mu.Unlock()
	if local != nil {
		local.Close()
	}
}
