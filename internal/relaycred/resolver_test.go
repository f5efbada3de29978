package relaycred

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pion/webrtc/v4"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveWellFormedCredentials(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"username": "1700000000:relay:abc",
			"password": "secret",
			"ttl": 600,
			"realm": "example.org",
			"uris": ["turn:turn.example.org:3478?transport=udp", "turns:turn.example.org:5349"]
		}`))
	}))
	defer ts.Close()

	servers := NewResolver(ts.URL, discardLogger()).Resolve(context.Background())
	if len(servers) != 2 {
		t.Fatalf("expected discovery + credentialed entry, got %d entries", len(servers))
	}
	if got := servers[0].URLs; len(got) != len(DefaultDiscoveryURIs) || got[0] != DefaultDiscoveryURIs[0] {
		t.Fatalf("discovery entry must come first: %#v", got)
	}
	if servers[1].Username != "1700000000:relay:abc" {
		t.Fatalf("unexpected username %q", servers[1].Username)
	}
	cred, ok := servers[1].Credential.(string)
	if !ok || cred != "secret" {
		t.Fatalf("unexpected credential %#v", servers[1].Credential)
	}
}

func TestResolveDegradesToDiscovery(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		code int
	}{
		{"missing username", `{"password":"p","uris":["turn:t.example.org:3478"]}`, http.StatusOK},
		{"missing password", `{"username":"u","uris":["turn:t.example.org:3478"]}`, http.StatusOK},
		{"missing uris", `{"username":"u","password":"p"}`, http.StatusOK},
		{"no relay scheme", `{"username":"u","password":"p","uris":["stun:s.example.org:3478"]}`, http.StatusOK},
		{"empty uris", `{"username":"u","password":"p","uris":["", "  "]}`, http.StatusOK},
		{"malformed body", `not json at all`, http.StatusOK},
		{"server error", `{}`, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.code)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			servers := NewResolver(ts.URL, discardLogger()).Resolve(context.Background())
			if len(servers) != 1 {
				t.Fatalf("expected discovery-only set, got %d entries", len(servers))
			}
			if servers[0].Username != "" || servers[0].Credential != nil {
				t.Fatalf("discovery entry must carry no credentials: %#v", servers[0])
			}
		})
	}
}

func TestResolveUnreachableEndpoint(t *testing.T) {
	t.Parallel()

	servers := NewResolver("http://127.0.0.1:1/creds", discardLogger()).Resolve(context.Background())
	if len(servers) != 1 || len(servers[0].URLs) == 0 {
		t.Fatalf("expected discovery-only set, got %#v", servers)
	}
}

func TestResolveNoEndpointConfigured(t *testing.T) {
	t.Parallel()

	servers := NewResolver("", discardLogger()).Resolve(context.Background())
	if len(servers) != 1 {
		t.Fatalf("expected discovery-only set, got %d entries", len(servers))
	}
}

func TestValidateDropsUnusableEntries(t *testing.T) {
	t.Parallel()

	in := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"", "   "}},
		{URLs: nil},
		{URLs: []string{"  turn:turn.example.org:3478  "}, Username: "u", Credential: "p"},
	}
	out := Validate(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving entries, got %d", len(out))
	}
	if out[1].URLs[0] != "turn:turn.example.org:3478" {
		t.Fatalf("urls not trimmed: %#v", out[1].URLs)
	}
}

func TestValidateSubstitutesFallbackWhenEmpty(t *testing.T) {
	t.Parallel()

	for _, in := range [][]webrtc.ICEServer{nil, {}, {{URLs: []string{""}}}} {
		out := Validate(in)
		if len(out) != 1 || len(out[0].URLs) != len(DefaultDiscoveryURIs) {
			t.Fatalf("expected fallback substitution, got %#v", out)
		}
	}
}
