// Package session wires the signaling channel, the negotiation
// coordinator, and the call state machine into the engine consumed by
// presentation adapters.
//
// One Session exists per peer-pair selection; switching conversation
// partners discards the old session entirely. Multiple async flows
// (an outgoing negotiation and an incoming hangup, say) can be in
// flight at once with no ordering guarantee between them, so
// correctness comes from explicit guards: the hangup in-flight flag,
// the coordinator's remote-description gate, the session-level
// candidate queue, and an epoch token that late continuations must
// match before touching shared state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/pairline/pairline/internal/call"
	"github.com/pairline/pairline/internal/channel"
	"github.com/pairline/pairline/internal/history"
	"github.com/pairline/pairline/internal/identity"
	"github.com/pairline/pairline/internal/media"
	"github.com/pairline/pairline/internal/negotiate"
	"github.com/pairline/pairline/internal/signal"
)

var (
	// ErrNoPeer short-circuits every call and messaging operation when
	// no real peer is selected.
	ErrNoPeer = errors.New("no peer selected")
	// ErrBusy rejects an intent that is illegal in the current call
	// state.
	ErrBusy = errors.New("call state does not allow this action")
	// ErrNoPendingOffer rejects accept/decline without a stored remote
	// offer.
	ErrNoPendingOffer = errors.New("no pending remote offer")
)

// Signaler is the slice of the signaling channel the session uses.
type Signaler interface {
	Open()
	Send(signal.Envelope) bool
	SetHandler(channel.Handler)
	Close()
	Online() bool
	Status() channel.Status
}

// Negotiator is the slice of the negotiation coordinator the session
// drives. *negotiate.Coordinator implements it.
type Negotiator interface {
	CreateOffer(ctx context.Context, constraints media.Constraints) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context, offer webrtc.SessionDescription, constraints media.Constraints) (webrtc.SessionDescription, error)
	ApplyRemoteAnswer(answer webrtc.SessionDescription) error
	ApplyRemoteCandidate(candidate webrtc.ICECandidateInit)
	ToggleAudio() (bool, bool)
	ToggleVideo() (bool, bool)
	Remote() *media.RemoteAggregate
	Teardown()
}

// NegotiatorFactory creates a coordinator for one call attempt. The
// default factory resolves relay credentials fresh on every call.
type NegotiatorFactory func(ctx context.Context, callbacks negotiate.Callbacks) (Negotiator, error)

// Config carries the session's identity and timing knobs.
type Config struct {
	Self identity.Identity
	Peer identity.Identity

	// HangupCooldown is how long the hangup in-flight guard stays set
	// before a genuinely new hangup is allowed.
	HangupCooldown time.Duration
	// FailedResetDelay is forwarded to the call state machine.
	FailedResetDelay time.Duration
}

// Session is the call and messaging engine for one peer pair.
type Session struct {
	log        *slog.Logger
	self       identity.Identity
	peer       identity.Identity
	pair       identity.Pair
	ch         Signaler
	factory    NegotiatorFactory
	machine    *call.Machine
	transcript *history.Transcript
	cooldown   time.Duration

	mu             sync.Mutex
	neg            Negotiator
	epoch          uuid.UUID
	pendingOffer   *webrtc.SessionDescription
	incomingVideo  bool
	pendingRemote  []webrtc.ICECandidateInit
	hangupInFlight bool
	closed         bool

	onTranscript func()
}

// New builds a session for one peer pair and installs its envelope
// handler on the channel. The caller opens the channel.
func New(cfg Config, ch Signaler, factory NegotiatorFactory, log *slog.Logger) *Session {
	if cfg.HangupCooldown <= 0 {
		cfg.HangupCooldown = 1 * time.Second
	}
	s := &Session{
		log:        log,
		self:       cfg.Self,
		peer:       cfg.Peer,
		pair:       identity.MakePair(cfg.Self, cfg.Peer),
		ch:         ch,
		factory:    factory,
		machine:    call.NewMachine(cfg.FailedResetDelay, log),
		transcript: history.NewTranscript(),
		cooldown:   cfg.HangupCooldown,
		epoch:      uuid.New(),
	}
	ch.SetHandler(s.handleEnvelope)
	return s
}

// Machine exposes the call state machine for observation.
func (s *Session) Machine() *call.Machine { return s.machine }

// Status returns the current call status.
func (s *Session) Status() call.Status { return s.machine.Status() }

// DurationSeconds returns the current connected-call duration.
func (s *Session) DurationSeconds() int64 { return s.machine.DurationSeconds() }

// PeerOnline reports the channel's liveness estimate for the peer.
func (s *Session) PeerOnline() bool { return s.ch.Online() }

// IncomingVideo reports whether the pending remote offer requests
// video. Only meaningful while ringing.
func (s *Session) IncomingVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incomingVideo
}

// RemoteMedia returns the composite remote aggregate of the current
// attempt, or nil when no negotiation is active.
func (s *Session) RemoteMedia() *media.RemoteAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.neg == nil {
		return nil
	}
	return s.neg.Remote()
}

// Transcript returns the merged message transcript.
func (s *Session) Transcript() *history.Transcript { return s.transcript }

// SetOnTranscript installs a notification hook fired after every
// transcript change.
func (s *Session) SetOnTranscript(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTranscript = fn
}

// SeedHistory installs the history store's ordered messages as the
// transcript seed.
func (s *Session) SeedHistory(messages []history.Message) {
	s.transcript.Seed(messages)
	s.notifyTranscript()
}

// StartCall begins an outgoing call. The negotiation runs
// asynchronously; failures release resources and drive the machine to
// failed (then idle).
func (s *Session) StartCall(ctx context.Context, video bool) error {
	if !s.pair.Valid() {
		return ErrNoPeer
	}
	if !s.machine.StartCalling() {
		return ErrBusy
	}

	epoch := s.bumpEpoch()
	go s.runStartCall(ctx, video, epoch)
	return nil
}

func (s *Session) runStartCall(ctx context.Context, video bool, epoch uuid.UUID) {
	neg, err := s.attach(ctx, epoch)
	if err != nil {
		s.abortAttempt(epoch, "create negotiation", err)
		return
	}

	offer, err := neg.CreateOffer(ctx, defaultConstraints(video))
	if err != nil {
		s.abortAttempt(epoch, "create offer", err)
		return
	}
	if !s.epochCurrent(epoch) {
		return
	}

	wire := signal.SDPFromPion(offer)
	sent := s.ch.Send(signal.Envelope{
		Kind:   signal.KindOffer,
		Author: s.self,
		Offer:  &wire,
		Video:  video,
	})
	if !sent {
		s.abortAttempt(epoch, "send offer", errors.New("signaling transport not open"))
	}
}

// AcceptCall answers the pending remote offer.
func (s *Session) AcceptCall(ctx context.Context) error {
	if !s.pair.Valid() {
		return ErrNoPeer
	}

	s.mu.Lock()
	if s.machine.Status() != call.StatusRinging || s.pendingOffer == nil {
		s.mu.Unlock()
		return ErrNoPendingOffer
	}
	offer := *s.pendingOffer
	video := s.incomingVideo
	s.pendingOffer = nil
	s.mu.Unlock()

	epoch := s.bumpEpoch()
	go s.runAccept(ctx, offer, video, epoch)
	return nil
}

func (s *Session) runAccept(ctx context.Context, offer webrtc.SessionDescription, video bool, epoch uuid.UUID) {
	neg, err := s.attach(ctx, epoch)
	if err != nil {
		s.abortAttempt(epoch, "create negotiation", err)
		return
	}

	answer, err := neg.CreateAnswer(ctx, offer, defaultConstraints(video))
	if err != nil {
		s.abortAttempt(epoch, "create answer", err)
		return
	}
	if !s.epochCurrent(epoch) {
		return
	}

	wire := signal.SDPFromPion(answer)
	sent := s.ch.Send(signal.Envelope{
		Kind:   signal.KindAnswer,
		Author: s.self,
		Answer: &wire,
	})
	if !sent {
		s.abortAttempt(epoch, "send answer", errors.New("signaling transport not open"))
		return
	}
	s.machine.Connect()
}

// DeclineCall rejects the pending remote offer without acquiring any
// local media.
func (s *Session) DeclineCall() error {
	s.mu.Lock()
	if s.machine.Status() != call.StatusRinging {
		s.mu.Unlock()
		return ErrNoPendingOffer
	}
	s.pendingOffer = nil
	s.incomingVideo = false
	s.pendingRemote = nil
	s.mu.Unlock()

	s.teardown(true, false)
	return nil
}

// Hangup ends the call from the local side. Idempotent under
// concurrent triggers.
func (s *Session) Hangup() {
	s.teardown(true, false)
}

// ToggleAudio flips the local audio track's enabled flag.
func (s *Session) ToggleAudio() (bool, bool) {
	s.mu.Lock()
	neg := s.neg
	s.mu.Unlock()
	if neg == nil {
		return false, false
	}
	return neg.ToggleAudio()
}

// ToggleVideo flips the local video track's enabled flag.
func (s *Session) ToggleVideo() (bool, bool) {
	s.mu.Lock()
	neg := s.neg
	s.mu.Unlock()
	if neg == nil {
		return false, false
	}
	return neg.ToggleVideo()
}

// SendText relays a plain text frame over the signaling channel.
// Reports true iff the transport was open at send time.
func (s *Session) SendText(text string) (bool, error) {
	if !s.pair.Valid() {
		return false, ErrNoPeer
	}
	if text == "" {
		return false, errors.New("empty message")
	}
	sent := s.ch.Send(signal.Envelope{
		Kind:    signal.KindMessage,
		Author:  s.self,
		Text:    text,
		UserID1: s.pair.Low,
		UserID2: s.pair.High,
	})
	if sent {
		s.transcript.Append(history.Message{Text: text, Author: s.self, CreatedAt: time.Now()})
		s.notifyTranscript()
	}
	return sent, nil
}

// MarkRead acknowledges the peer's messages: they are flagged read
// locally and a read frame is sent so the peer can update its side.
func (s *Session) MarkRead() {
	if !s.pair.Valid() {
		return
	}
	s.transcript.MarkRead(s.peer)
	s.notifyTranscript()
	s.ch.Send(signal.Envelope{Kind: signal.KindRead, Author: s.self})
}

// Close tears down any active call and the channel. Intentional, so
// the channel does not reconnect.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.teardown(false, false)
	s.ch.Close()
}

// handleEnvelope dispatches one inbound envelope. The channel is
// shared and may reflect our own frames back, so anything authored by
// the local identity is ignored for every kind.
func (s *Session) handleEnvelope(env signal.Envelope) {
	if env.Author == s.self {
		return
	}

	switch env.Kind {
	case signal.KindMessage:
		s.transcript.Append(history.Message{Text: env.Text, Author: env.Author, CreatedAt: time.Now()})
		s.notifyTranscript()

	case signal.KindRead:
		s.transcript.MarkRead(s.self)
		s.notifyTranscript()

	case signal.KindOffer:
		s.handleRemoteOffer(env)

	case signal.KindAnswer:
		s.handleRemoteAnswer(env)

	case signal.KindCandidate:
		s.handleRemoteCandidate(env)

	case signal.KindHangup:
		s.handleRemoteHangup()

	case signal.KindPing, signal.KindPong:
		// Liveness bookkeeping happens in the channel.
	}
}

func (s *Session) handleRemoteOffer(env signal.Envelope) {
	desc, err := env.Offer.ToPion()
	if err != nil {
		s.log.Warn("dropping offer with bad description", "err", err)
		return
	}
	if !s.machine.RingIn() {
		s.log.Debug("ignoring remote offer outside idle", "status", s.machine.Status())
		return
	}
	s.mu.Lock()
	s.pendingOffer = &desc
	s.incomingVideo = env.Video
	s.pendingRemote = nil
	// A new incoming attempt starts a fresh hangup context: its own
	// decline must notify the peer even inside a previous cooldown.
	s.hangupInFlight = false
	s.mu.Unlock()
}

func (s *Session) handleRemoteAnswer(env signal.Envelope) {
	desc, err := env.Answer.ToPion()
	if err != nil {
		s.log.Warn("dropping answer with bad description", "err", err)
		return
	}

	s.mu.Lock()
	neg := s.neg
	epoch := s.epoch
	s.mu.Unlock()
	if neg == nil || s.machine.Status() != call.StatusCalling {
		s.log.Debug("ignoring remote answer outside calling")
		return
	}

	if err := neg.ApplyRemoteAnswer(desc); err != nil {
		s.abortAttempt(epoch, "apply remote answer", err)
		return
	}
	s.machine.Connect()
}

func (s *Session) handleRemoteCandidate(env signal.Envelope) {
	candidate := env.Candidate.ToPion()

	s.mu.Lock()
	neg := s.neg
	if neg == nil {
		switch s.machine.Status() {
		case call.StatusRinging, call.StatusCalling:
			// No coordinator yet (ringing, or an attempt is still
			// being set up). Queue so nothing is lost; attach forwards
			// these in arrival order.
			s.pendingRemote = append(s.pendingRemote, candidate)
		default:
			// No attempt to deliver to; a stray burst must not linger.
			s.log.Debug("dropping candidate outside call attempt")
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	neg.ApplyRemoteCandidate(candidate)
}

func (s *Session) handleRemoteHangup() {
	switch s.machine.Status() {
	case call.StatusRinging:
		// Caller withdrew before we answered; no hangup goes back out.
		s.mu.Lock()
		s.pendingOffer = nil
		s.incomingVideo = false
		s.pendingRemote = nil
		s.mu.Unlock()
		s.machine.Reset()
	case call.StatusCalling, call.StatusConnected:
		s.teardown(false, false)
	default:
		// Stray hangup while idle; nothing to do.
	}
}

// attach creates the coordinator for the current attempt and stores it
// if the attempt is still current. A stale attempt's coordinator is
// torn down immediately so its resources are never reused.
func (s *Session) attach(ctx context.Context, epoch uuid.UUID) (Negotiator, error) {
	neg, err := s.factory(ctx, negotiate.Callbacks{
		OnLocalCandidate: func(candidate webrtc.ICECandidateInit) {
			s.sendCandidate(epoch, candidate)
		},
		OnConnected: func() {
			if s.epochCurrent(epoch) {
				s.machine.Connect()
			}
		},
		OnFailed: func() {
			if s.epochCurrent(epoch) {
				s.log.Warn("peer connection failed")
				s.teardown(true, false)
			}
		},
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.epoch != epoch || s.closed {
		s.mu.Unlock()
		neg.Teardown()
		return nil, errors.New("call attempt superseded")
	}
	s.neg = neg
	queued := s.pendingRemote
	s.pendingRemote = nil
	// The backlog is forwarded before the lock is released. A live
	// candidate can only observe the published coordinator after this
	// critical section, so the backlog always reaches the coordinator
	// first and arrival order survives the handoff. The coordinator
	// still gates application on the remote description.
	for _, candidate := range queued {
		neg.ApplyRemoteCandidate(candidate)
	}
	s.mu.Unlock()
	return neg, nil
}

func (s *Session) sendCandidate(epoch uuid.UUID, candidate webrtc.ICECandidateInit) {
	if !s.epochCurrent(epoch) {
		return
	}
	wire := signal.CandidateFromPion(candidate)
	s.ch.Send(signal.Envelope{
		Kind:      signal.KindCandidate,
		Author:    s.self,
		Candidate: &wire,
	})
}

// abortAttempt handles a capture, description, or send failure: the
// attempt's resources are released and the machine lands in failed,
// which auto-resets to idle. Stale attempts are ignored.
func (s *Session) abortAttempt(epoch uuid.UUID, stage string, err error) {
	if !s.epochCurrent(epoch) {
		return
	}
	s.log.Warn("call attempt aborted", "stage", stage, "err", err)
	s.teardown(true, true)
}

// teardown is the idempotent hangup coordinator. The in-flight guard
// covers duplicate triggers of one hangup (a local action racing a
// remote hangup or a failure callback): duplicates send no second
// envelope and release nothing twice. State clearing and the machine
// transition run on every trigger regardless, so a genuinely new
// teardown inside a previous cooldown still lands the machine in the
// right state. Every step is best-effort and a failure in one never
// skips the rest. The peer is notified only when the transport is
// open, and only as the final step.
func (s *Session) teardown(notifyPeer, failed bool) {
	s.mu.Lock()
	first := !s.hangupInFlight
	if first {
		s.hangupInFlight = true
		time.AfterFunc(s.cooldown, func() {
			s.mu.Lock()
			s.hangupInFlight = false
			s.mu.Unlock()
		})
	}

	neg := s.neg
	s.neg = nil
	s.pendingOffer = nil
	s.incomingVideo = false
	s.pendingRemote = nil
	// Invalidate every in-flight continuation of the old attempt.
	s.epoch = uuid.New()
	s.mu.Unlock()

	if neg != nil {
		neg.Teardown()
	}

	if failed {
		s.machine.Fail()
	} else {
		s.machine.Reset()
	}

	if first && notifyPeer && s.ch.Status() == channel.StatusOpen {
		s.ch.Send(signal.Envelope{Kind: signal.KindHangup, Author: s.self})
	}
}

func (s *Session) bumpEpoch() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch = uuid.New()
	// A fresh outgoing attempt is a fresh hangup context too.
	s.hangupInFlight = false
	return s.epoch
}

func (s *Session) epochCurrent(epoch uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch && !s.closed
}

func (s *Session) notifyTranscript() {
	s.mu.Lock()
	fn := s.onTranscript
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func defaultConstraints(video bool) media.Constraints {
	c := media.Constraints{Audio: true, Video: video}
	if video {
		c.Width = 1280
		c.Height = 720
		c.FrameRate = 30
	}
	return c
}
