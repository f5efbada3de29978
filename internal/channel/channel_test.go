package channel

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairline/pairline/internal/identity"
	"github.com/pairline/pairline/internal/signal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastTimings() Timings {
	return Timings{
		HeartbeatInterval:      20 * time.Millisecond,
		LivenessSampleInterval: 10 * time.Millisecond,
		LivenessThreshold:      80 * time.Millisecond,
		ReconnectDelay:         30 * time.Millisecond,
	}
}

// testRelay is a minimal signaling endpoint: it records the requested
// channel path and lets the test inject and observe frames.
type testRelay struct {
	ts *httptest.Server

	mu    sync.Mutex
	path  string
	conn  *websocket.Conn
	recvd [][]byte
	ready chan struct{}
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	relay := &testRelay{ready: make(chan struct{}, 8)}
	upgrader := websocket.Upgrader{}
	relay.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		relay.mu.Lock()
		relay.path = r.URL.Path
		relay.conn = conn
		relay.mu.Unlock()
		relay.ready <- struct{}{}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			relay.mu.Lock()
			relay.recvd = append(relay.recvd, data)
			relay.mu.Unlock()
		}
	}))
	t.Cleanup(relay.ts.Close)
	return relay
}

func (r *testRelay) url() string {
	return "ws" + strings.TrimPrefix(r.ts.URL, "http")
}

func (r *testRelay) waitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-r.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel to connect")
	}
}

func (r *testRelay) inject(t *testing.T, env signal.Envelope) {
	t.Helper()
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	r.injectRaw(t, data)
}

func (r *testRelay) injectRaw(t *testing.T, data []byte) {
	t.Helper()
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		t.Fatal("no connected client")
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("inject: %v", err)
	}
}

func (r *testRelay) received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.recvd))
	copy(out, r.recvd)
	return out
}

func (r *testRelay) dropClient() {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestChannelAddressUsesCanonicalPair(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 9, identity.MakePair(9, 5), fastTimings(), discardLogger())
	defer ch.Close()
	ch.Open()
	relay.waitConnected(t)

	relay.mu.Lock()
	path := relay.path
	relay.mu.Unlock()
	if path != "/channels/5-9" {
		t.Fatalf("unexpected channel path %q", path)
	}
}

func TestSendBeforeOpenReturnsFalse(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	defer ch.Close()

	if ch.Send(signal.Envelope{Kind: signal.KindHangup, Author: 5}) {
		t.Fatal("send before open must report false, not buffer")
	}

	ch.Open()
	relay.waitConnected(t)
	if !ch.Send(signal.Envelope{Kind: signal.KindHangup, Author: 5}) {
		t.Fatal("send while open must report true")
	}
}

func TestHeartbeatSendsPings(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	defer ch.Close()
	ch.Open()
	relay.waitConnected(t)

	waitFor(t, "heartbeat ping", func() bool {
		for _, data := range relay.received() {
			env, err := signal.Parse(data)
			if err == nil && env.Kind == signal.KindPing && env.Author == 5 {
				return true
			}
		}
		return false
	})
}

func TestPeerPingTriggersImmediatePong(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	defer ch.Close()
	ch.Open()
	relay.waitConnected(t)

	relay.inject(t, signal.Envelope{Kind: signal.KindPing, Author: 9})

	waitFor(t, "pong reply", func() bool {
		for _, data := range relay.received() {
			env, err := signal.Parse(data)
			if err == nil && env.Kind == signal.KindPong && env.Author == 5 {
				return true
			}
		}
		return false
	})
}

func TestLivenessTracksPeerActivity(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	defer ch.Close()
	ch.Open()
	relay.waitConnected(t)

	// No envelope from the peer yet: offline.
	if ch.Online() {
		t.Fatal("peer must be offline before any envelope arrives")
	}

	relay.inject(t, signal.Envelope{Kind: signal.KindPong, Author: 9})
	waitFor(t, "peer online", ch.Online)

	// Silence beyond the threshold flips the estimate back offline.
	waitFor(t, "peer offline after silence", func() bool { return !ch.Online() })
}

func TestSelfEchoDoesNotResetLiveness(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	defer ch.Close()
	ch.Open()
	relay.waitConnected(t)

	relay.inject(t, signal.Envelope{Kind: signal.KindPing, Author: 5})
	time.Sleep(3 * fastTimings().LivenessSampleInterval)
	if ch.Online() {
		t.Fatal("reflected self envelope must not mark the peer online")
	}
}

func TestMalformedEnvelopeIsDroppedNotFatal(t *testing.T) {
	relay := newTestRelay(t)

	var mu sync.Mutex
	var got []signal.Envelope
	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	ch.SetHandler(func(env signal.Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	})
	defer ch.Close()
	ch.Open()
	relay.waitConnected(t)

	relay.injectRaw(t, []byte(`{"type":"nonsense"`))
	relay.inject(t, signal.Envelope{Kind: signal.KindMessage, Author: 9, Text: "still here", UserID1: 5, UserID2: 9})

	waitFor(t, "message after malformed frame", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, env := range got {
			if env.Kind == signal.KindMessage && env.Text == "still here" {
				return true
			}
		}
		return false
	})
	if ch.Status() != StatusOpen {
		t.Fatalf("channel must stay open, got %s", ch.Status())
	}
}

func TestReconnectAfterTransportLoss(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	defer ch.Close()
	ch.Open()
	relay.waitConnected(t)

	relay.dropClient()
	waitFor(t, "disconnect observed", func() bool { return ch.Status() != StatusOpen })

	relay.waitConnected(t)
	waitFor(t, "channel reopened", func() bool { return ch.Status() == StatusOpen })
}

func TestIntentionalCloseSuppressesReconnect(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	ch.Open()
	relay.waitConnected(t)

	ch.Close()
	if got := ch.Status(); got != StatusClosed {
		t.Fatalf("expected closed status, got %s", got)
	}

	// Were a reconnect pending it would land well within this window.
	time.Sleep(4 * fastTimings().ReconnectDelay)
	select {
	case <-relay.ready:
		t.Fatal("channel reconnected after intentional close")
	default:
	}
	if got := ch.Status(); got != StatusClosed {
		t.Fatalf("status changed after close: %s", got)
	}
}

func TestTransportErrorSuppressesPresence(t *testing.T) {
	relay := newTestRelay(t)

	ch := New(relay.url(), 5, identity.MakePair(5, 9), fastTimings(), discardLogger())
	defer ch.Close()
	ch.Open()
	relay.waitConnected(t)

	relay.inject(t, signal.Envelope{Kind: signal.KindPong, Author: 9})
	waitFor(t, "peer online", ch.Online)

	relay.dropClient()
	waitFor(t, "presence suppressed on disconnect", func() bool { return !ch.Online() })
}
