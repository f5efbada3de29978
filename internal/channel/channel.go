// Package channel maintains the persistent duplex signaling connection
// for one canonical peer pair.
//
// A channel owns exactly one live websocket at a time. It layers three
// behaviors on top of the raw transport: a heartbeat that keeps the
// peer's liveness estimator fed, a liveness estimator of its own, and
// reconnect-with-delay for closes the local side did not initiate.
//
// Transport failures never surface as errors to callers; they degrade
// to StatusDisconnected and offline presence.
package channel

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairline/pairline/internal/identity"
	"github.com/pairline/pairline/internal/signal"
)

// Status is the transport state observable by the session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusOpen         Status = "open"
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

const writeWait = 1 * time.Second

// Timings holds the channel's protocol intervals.
type Timings struct {
	// HeartbeatInterval is how often a ping envelope is sent while open.
	HeartbeatInterval time.Duration
	// LivenessSampleInterval is how often peer liveness is re-evaluated.
	LivenessSampleInterval time.Duration
	// LivenessThreshold is the maximum silence from the peer before it
	// is reported offline.
	LivenessThreshold time.Duration
	// ReconnectDelay is the pause before redialing after an
	// unintentional close.
	ReconnectDelay time.Duration
}

// WithDefaults fills zero fields with the reference values.
func (t Timings) WithDefaults() Timings {
	if t.HeartbeatInterval <= 0 {
		t.HeartbeatInterval = 5 * time.Second
	}
	if t.LivenessSampleInterval <= 0 {
		t.LivenessSampleInterval = 3 * time.Second
	}
	if t.LivenessThreshold <= 0 {
		t.LivenessThreshold = 15 * time.Second
	}
	if t.ReconnectDelay <= 0 {
		t.ReconnectDelay = 3 * time.Second
	}
	return t
}

// Handler receives every parsed envelope, including the local side's
// own frames if the transport reflects them. Self-echo suppression is
// the consumer's responsibility.
type Handler func(signal.Envelope)

// Channel is one signaling connection keyed by a canonical pair.
type Channel struct {
	log     *slog.Logger
	self    identity.Identity
	pair    identity.Pair
	url     string
	timings Timings
	dialer  *websocket.Dialer
	now     func() time.Time

	mu        sync.Mutex
	conn      *websocket.Conn
	status    Status
	handler   Handler
	closed    bool
	lastRecv  time.Time
	online    bool
	stop      chan struct{}
	reconnect *time.Timer
}

// New builds a channel addressed by the canonical pair key. The
// channel is inert until Open is called.
func New(baseURL string, self identity.Identity, pair identity.Pair, timings Timings, log *slog.Logger) *Channel {
	return &Channel{
		log:     log.With("channel", pair.Key()),
		self:    self,
		pair:    pair,
		url:     baseURL + "/channels/" + pair.Key(),
		timings: timings.WithDefaults(),
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
		status:  StatusConnecting,
	}
}

// SetHandler installs the envelope handler. Must be called before Open.
func (c *Channel) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Pair returns the canonical pair this channel is keyed by.
func (c *Channel) Pair() identity.Pair { return c.pair }

// Status returns the current transport status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Online reports the liveness estimate of the remote peer. A peer is
// online iff the transport is open and an envelope authored by the peer
// arrived within the liveness threshold.
func (c *Channel) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Open dials the transport. Dial failures are not returned: the
// channel lands in StatusDisconnected and a reconnect is scheduled,
// same as a mid-session transport loss.
func (c *Channel) Open() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	// Exactly one live connection per pair: tear down any previous
	// instance before dialing a new one.
	c.teardownConnLocked()
	c.status = StatusConnecting
	url := c.url
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(url, nil)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.log.Warn("signaling dial failed", "err", err)
		c.status = StatusDisconnected
		c.online = false
		c.scheduleReconnectLocked()
		return
	}

	c.conn = conn
	c.status = StatusOpen
	c.lastRecv = time.Time{}
	c.stop = make(chan struct{})

	go c.readLoop(conn, c.stop)
	go c.heartbeatLoop(c.stop)
	go c.livenessLoop(c.stop)
}

// Send writes one envelope. It reports true iff the transport was open
// at send time. Sends while connecting or disconnected return false
// rather than buffering: a stale buffered offer is worse than a
// dropped one.
func (c *Channel) Send(env signal.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(env)
}

func (c *Channel) sendLocked(env signal.Envelope) bool {
	if c.status != StatusOpen || c.conn == nil {
		return false
	}
	data, err := env.Encode()
	if err != nil {
		c.log.Warn("envelope encode failed", "type", env.Kind, "err", err)
		return false
	}
	_ = c.conn.SetWriteDeadline(c.now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn("signaling send failed", "type", env.Kind, "err", err)
		c.lostLocked()
		return false
	}
	return true
}

// Close tears the channel down intentionally and suppresses any
// pending or future reconnect.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.teardownConnLocked()
	c.status = StatusClosed
	c.online = false
}

// teardownConnLocked closes the current connection instance and stops
// its timers. It does not touch status or the reconnect schedule.
func (c *Channel) teardownConnLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.online = false
}

// lostLocked handles an unintentional transport loss: degrade status,
// drop presence, and schedule a redial.
func (c *Channel) lostLocked() {
	if c.closed {
		return
	}
	c.teardownConnLocked()
	c.status = StatusDisconnected
	c.scheduleReconnectLocked()
}

func (c *Channel) scheduleReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.reconnect = time.AfterFunc(c.timings.ReconnectDelay, c.Open)
}

func (c *Channel) readLoop(conn *websocket.Conn, stop chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			// Only react if this connection instance is still current;
			// a stale read loop must not tear down its replacement.
			if c.conn == conn {
				c.log.Info("signaling connection lost", "err", err)
				c.lostLocked()
			}
			c.mu.Unlock()
			return
		}

		env, err := signal.Parse(data)
		if err != nil {
			// One bad envelope never tears down the channel.
			c.log.Warn("dropping malformed envelope", "err", err)
			continue
		}

		c.mu.Lock()
		handler := c.handler
		fromPeer := env.Author != c.self
		if fromPeer {
			// Any envelope from the peer resets the liveness clock.
			c.lastRecv = c.now()
			c.online = true
		}
		if fromPeer && env.Kind == signal.KindPing {
			c.sendLocked(signal.Envelope{Kind: signal.KindPong, Author: c.self})
		}
		c.mu.Unlock()

		select {
		case <-stop:
			return
		default:
		}
		if handler != nil {
			handler(env)
		}
	}
}

func (c *Channel) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.timings.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Send(signal.Envelope{Kind: signal.KindPing, Author: c.self})
		}
	}
}

func (c *Channel) livenessLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.timings.LivenessSampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.online = c.status == StatusOpen &&
				!c.lastRecv.IsZero() &&
				c.now().Sub(c.lastRecv) < c.timings.LivenessThreshold
			c.mu.Unlock()
		}
	}
}
