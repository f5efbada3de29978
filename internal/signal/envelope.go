// Package signal defines the JSON envelopes exchanged over the
// signaling channel and their conversions to pion types.
//
// Envelopes are a tagged union on the "type" field. Parsing validates
// the per-kind payload shape so a malformed envelope can be dropped
// without tearing down the channel.
package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/pairline/pairline/internal/identity"
)

// Kind discriminates the envelope union.
type Kind string

const (
	KindMessage   Kind = "message"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "ice-candidate"
	KindHangup    Kind = "hangup"
	KindPing      Kind = "ping"
	KindPong      Kind = "pong"
	KindRead      Kind = "read"
)

// SDP is the wire form of a session description.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// SDPFromPion converts a pion session description to its wire form.
func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{Type: desc.Type.String(), SDP: desc.SDP}
}

// ToPion converts the wire form back to a pion session description.
func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate is the wire form of one ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CandidateFromPion converts a pion candidate init to its wire form.
func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

// ToPion converts the wire form back to a pion candidate init.
func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Envelope is one signaling frame. Exactly one payload group is
// populated, selected by Kind.
type Envelope struct {
	Kind   Kind              `json:"type"`
	Author identity.Identity `json:"author"`

	// Kind == KindMessage.
	Text    string            `json:"text,omitempty"`
	UserID1 identity.Identity `json:"user_id1,omitempty"`
	UserID2 identity.Identity `json:"user_id2,omitempty"`

	// Kind == KindOffer.
	Offer *SDP `json:"offer,omitempty"`
	Video bool `json:"video,omitempty"`

	// Kind == KindAnswer.
	Answer *SDP `json:"answer,omitempty"`

	// Kind == KindCandidate.
	Candidate *Candidate `json:"candidate,omitempty"`
}

// Parse decodes and validates one envelope. Trailing data after the
// JSON object is rejected.
func Parse(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that the envelope carries the payload its kind
// requires and no foreign payload.
func (e Envelope) Validate() error {
	if !e.Author.Valid() {
		return fmt.Errorf("invalid author %d", e.Author)
	}
	switch e.Kind {
	case KindMessage:
		if e.Text == "" {
			return fmt.Errorf("message envelope missing text")
		}
		if !e.UserID1.Valid() || !e.UserID2.Valid() || e.UserID1 >= e.UserID2 {
			return fmt.Errorf("message envelope pair not canonical")
		}
		if e.Offer != nil || e.Answer != nil || e.Candidate != nil {
			return fmt.Errorf("message envelope has unexpected fields")
		}
	case KindOffer:
		if e.Offer == nil {
			return fmt.Errorf("offer envelope missing offer")
		}
		if e.Offer.Type != "offer" {
			return fmt.Errorf("offer envelope has sdp type %q", e.Offer.Type)
		}
		if e.Answer != nil || e.Candidate != nil || e.Text != "" {
			return fmt.Errorf("offer envelope has unexpected fields")
		}
	case KindAnswer:
		if e.Answer == nil {
			return fmt.Errorf("answer envelope missing answer")
		}
		if e.Answer.Type != "answer" {
			return fmt.Errorf("answer envelope has sdp type %q", e.Answer.Type)
		}
		if e.Offer != nil || e.Candidate != nil || e.Text != "" {
			return fmt.Errorf("answer envelope has unexpected fields")
		}
	case KindCandidate:
		if e.Candidate == nil {
			return fmt.Errorf("candidate envelope missing candidate")
		}
		if e.Offer != nil || e.Answer != nil || e.Text != "" {
			return fmt.Errorf("candidate envelope has unexpected fields")
		}
	case KindHangup, KindPing, KindPong, KindRead:
		if e.Offer != nil || e.Answer != nil || e.Candidate != nil || e.Text != "" {
			return fmt.Errorf("%s envelope has unexpected fields", e.Kind)
		}
	default:
		return fmt.Errorf("unsupported envelope type %q", e.Kind)
	}
	return nil
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
