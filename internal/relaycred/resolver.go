// Package relaycred resolves the ICE server set for one call attempt.
//
// Relay (TURN) credentials are time-limited and fetched from a trust
// endpoint. Resolution never fails: on any error the resolver degrades
// to the public discovery (STUN) servers, which are always included.
package relaycred

import (
	"context"
	"log/slog"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pion/webrtc/v4"
)

// DefaultDiscoveryURIs is the hard-coded discovery-only fallback. These
// carry no credentials and are present in every resolved set.
var DefaultDiscoveryURIs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// credentialResponse is the shape of the trust endpoint body.
type credentialResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	TTL      int64    `json:"ttl"`
	Realm    string   `json:"realm"`
	URIs     []string `json:"uris"`
}

// Resolver fetches relay credentials from a trust endpoint.
//
// Credentials are time-limited, so callers must resolve once per call
// attempt and not cache the result beyond a single session.
type Resolver struct {
	http      *resty.Client
	endpoint  string
	discovery []string
	log       *slog.Logger
}

// NewResolver builds a resolver against the given trust endpoint.
// An empty endpoint yields discovery-only sets.
func NewResolver(endpoint string, log *slog.Logger) *Resolver {
	return &Resolver{
		http:      resty.New(),
		endpoint:  endpoint,
		discovery: DefaultDiscoveryURIs,
		log:       log,
	}
}

// Resolve returns the ICE server set for one call attempt. It never
// fails: network errors, non-2xx responses, and malformed bodies all
// degrade to the discovery-only set.
func (r *Resolver) Resolve(ctx context.Context) []webrtc.ICEServer {
	discoveryOnly := []webrtc.ICEServer{{URLs: append([]string(nil), r.discovery...)}}

	if r.endpoint == "" {
		return discoveryOnly
	}

	var body credentialResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(r.endpoint)
	if err != nil {
		r.log.Warn("relay credential fetch failed, using discovery servers", "err", err)
		return discoveryOnly
	}
	if !resp.IsSuccess() {
		r.log.Warn("relay credential endpoint returned error, using discovery servers", "status", resp.StatusCode())
		return discoveryOnly
	}

	out := discoveryOnly
	if entry, ok := credentialedEntry(body); ok {
		out = append(out, entry)
	} else {
		r.log.Warn("relay credential response incomplete, using discovery servers only")
	}
	return out
}

// credentialedEntry builds the relay entry from the endpoint body. The
// whole entry is rejected unless uris, username, and password are all
// present and at least one URI uses a relay scheme; there are no
// partial-trust entries.
func credentialedEntry(body credentialResponse) (webrtc.ICEServer, bool) {
	username := strings.TrimSpace(body.Username)
	password := strings.TrimSpace(body.Password)
	if username == "" || password == "" || len(body.URIs) == 0 {
		return webrtc.ICEServer{}, false
	}

	uris := make([]string, 0, len(body.URIs))
	hasRelayScheme := false
	for _, raw := range body.URIs {
		uri := strings.TrimSpace(raw)
		if uri == "" {
			continue
		}
		if isRelayURI(uri) {
			hasRelayScheme = true
		}
		uris = append(uris, uri)
	}
	if len(uris) == 0 || !hasRelayScheme {
		return webrtc.ICEServer{}, false
	}

	return webrtc.ICEServer{
		URLs:       uris,
		Username:   username,
		Credential: password,
	}, true
}

func isRelayURI(uri string) bool {
	return strings.HasPrefix(uri, "turn:") || strings.HasPrefix(uri, "turns:")
}

// Validate sanitizes an ICE server set before it reaches the peer
// connection. Entries with no usable URLs are dropped; if nothing
// usable remains the discovery fallback is substituted so the set is
// never empty.
func Validate(set []webrtc.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(set))
	for _, server := range set {
		urls := make([]string, 0, len(server.URLs))
		for _, raw := range server.URLs {
			url := strings.TrimSpace(raw)
			if url == "" {
				continue
			}
			urls = append(urls, url)
		}
		if len(urls) == 0 {
			continue
		}
		server.URLs = urls
		out = append(out, server)
	}
	if len(out) == 0 {
		return []webrtc.ICEServer{{URLs: append([]string(nil), DefaultDiscoveryURIs...)}}
	}
	return out
}
