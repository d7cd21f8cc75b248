// Package protocol defines the signaling envelope exchanged over the WebSocket
// by both negotiation roles.
//
// The package models the wire surface only; it does not depend on any WebRTC
// implementation.
package protocol

// Kind is the envelope tag carried in the "type" field.
type Kind string

const (
	KindOffer  Kind = "WebRTC_OFFER"
	KindAnswer Kind = "WebRTC_ANSWER"
	KindICE    Kind = "WebRTC_ICE"
	KindError  Kind = "WebRTC_ERROR"

	// kindLegacyICE is accepted on input only and normalized to KindICE.
	kindLegacyICE Kind = "WebRTC_ICE_CANDIDATE"
)

// Version1 is the current envelope schema version. Envelopes without a
// version field are treated as Version1.
const Version1 = 1

// SDPType is the role tag of a session description.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// Description is an opaque negotiation blob plus its role tag.
type Description struct {
	Type SDPType
	SDP  string
}

// Candidate is a trickled ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// ErrorInfo is the payload of a KindError envelope.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by KindError envelopes.
const (
	CodeMalformed         = "malformed"
	CodeProtocolViolation = "protocol_violation"
	CodeEngineFailure     = "engine_failure"
)

// Envelope is a tagged union: exactly one of Offer, Answer, ICE or Error is
// populated, matching Type.
type Envelope struct {
	Type    Kind       `json:"type"`
	Version int        `json:"version,omitempty"`
	Offer   string     `json:"offer,omitempty"`
	Answer  string     `json:"answer,omitempty"`
	ICE     *Candidate `json:"ice,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// NewOffer wraps an offer SDP.
func NewOffer(sdp string) Envelope {
	return Envelope{Type: KindOffer, Offer: sdp}
}

// NewAnswer wraps an answer SDP.
func NewAnswer(sdp string) Envelope {
	return Envelope{Type: KindAnswer, Answer: sdp}
}

// NewDescription wraps a description into the envelope matching its role tag.
func NewDescription(desc Description) Envelope {
	if desc.Type == SDPTypeAnswer {
		return NewAnswer(desc.SDP)
	}
	return NewOffer(desc.SDP)
}

// NewCandidate wraps an ICE candidate.
func NewCandidate(c Candidate) Envelope {
	return Envelope{Type: KindICE, ICE: &c}
}

// NewError builds a peer-visible error envelope.
func NewError(code, message string) Envelope {
	return Envelope{Type: KindError, Error: &ErrorInfo{Code: code, Message: message}}
}

// Description returns the session description carried by an offer or answer
// envelope. ok is false for other kinds.
func (e Envelope) Description() (desc Description, ok bool) {
	switch e.Type {
	case KindOffer:
		return Description{Type: SDPTypeOffer, SDP: e.Offer}, true
	case KindAnswer:
		return Description{Type: SDPTypeAnswer, SDP: e.Answer}, true
	default:
		return Description{}, false
	}
}
