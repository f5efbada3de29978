// Package call holds the authoritative call status and its transition
// rules. The machine is the single writer of status; everything else
// observes it.
package call

import (
	"log/slog"
	"sync"
	"time"
)

// Status is the lifecycle state of a call.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusCalling   Status = "calling"
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusFailed    Status = "failed"
)

// Machine enforces the transition table and accounts call duration.
//
// Legal transitions: idle→calling (local start), idle→ringing (remote
// offer), calling|ringing→connected, any→idle, any→failed→idle (timed
// auto-reset). Illegal requests are ignored and logged, never applied.
type Machine struct {
	log *slog.Logger

	// FailedResetDelay is how long the machine lingers in failed
	// before auto-resetting to idle.
	failedResetDelay time.Duration

	mu         sync.Mutex
	status     Status
	duration   int64
	ticker     *time.Ticker
	tickerStop chan struct{}
	resetTimer *time.Timer
	onChange   func(Status)
}

// NewMachine builds a machine in the idle state.
func NewMachine(failedResetDelay time.Duration, log *slog.Logger) *Machine {
	if failedResetDelay <= 0 {
		failedResetDelay = 2 * time.Second
	}
	return &Machine{
		log:              log,
		failedResetDelay: failedResetDelay,
		status:           StatusIdle,
	}
}

// SetOnChange installs the observer notified after every applied
// transition. The callback runs without the machine lock held.
func (m *Machine) SetOnChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// DurationSeconds returns the seconds spent in the current connected
// stretch, or 0 when not connected.
func (m *Machine) DurationSeconds() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration
}

// StartCalling applies idle→calling. Reports whether the transition
// was legal and applied.
func (m *Machine) StartCalling() bool {
	return m.transition(StatusCalling, StatusIdle)
}

// RingIn applies idle→ringing on a remote offer.
func (m *Machine) RingIn() bool {
	return m.transition(StatusRinging, StatusIdle)
}

// Connect applies calling|ringing→connected and starts the duration
// counter at 0.
func (m *Machine) Connect() bool {
	return m.transition(StatusConnected, StatusCalling, StatusRinging)
}

// Reset applies any→idle. Always legal; duration is discarded.
func (m *Machine) Reset() {
	m.transition(StatusIdle)
}

// Fail applies any→failed and schedules the timed auto-reset to idle.
func (m *Machine) Fail() {
	m.transition(StatusFailed)
}

// transition applies next if the current status is among from (empty
// from means unconditionally legal).
func (m *Machine) transition(next Status, from ...Status) bool {
	m.mu.Lock()
	if len(from) > 0 && !statusIn(m.status, from) {
		current := m.status
		m.mu.Unlock()
		m.log.Debug("ignoring illegal call transition", "from", current, "to", next)
		return false
	}
	if m.status == next {
		m.mu.Unlock()
		return false
	}

	m.leaveLocked()
	m.status = next
	switch next {
	case StatusConnected:
		m.startDurationLocked()
	case StatusFailed:
		m.resetTimer = time.AfterFunc(m.failedResetDelay, m.Reset)
	}
	notify := m.onChange
	m.mu.Unlock()

	if notify != nil {
		notify(next)
	}
	return true
}

// leaveLocked runs the exit bookkeeping of the current status.
func (m *Machine) leaveLocked() {
	if m.status == StatusConnected {
		m.stopDurationLocked()
	}
	if m.resetTimer != nil {
		m.resetTimer.Stop()
		m.resetTimer = nil
	}
}

func (m *Machine) startDurationLocked() {
	m.duration = 0
	m.ticker = time.NewTicker(1 * time.Second)
	stop := make(chan struct{})
	m.tickerStop = stop
	ticker := m.ticker
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.mu.Lock()
				if m.status == StatusConnected {
					m.duration++
				}
				m.mu.Unlock()
			}
		}
	}()
}

func (m *Machine) stopDurationLocked() {
	if m.ticker != nil {
		m.ticker.Stop()
		m.ticker = nil
	}
	if m.tickerStop != nil {
		close(m.tickerStop)
		m.tickerStop = nil
	}
	m.duration = 0
}

func statusIn(s Status, set []Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}
