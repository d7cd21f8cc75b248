package session

import "fmt"

// Role selects which side of the offer/answer exchange a Machine drives.
type Role int

const (
	RoleInitiator Role = iota // creates the offer
	RoleResponder             // answers an offer
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Phase is the negotiation phase of one session.
//
//	initiator: IDLE → LOCAL_OFFER_SENT → REMOTE_ANSWER_APPLIED → ACTIVE → CLOSED
//	responder: IDLE → REMOTE_OFFER_APPLIED → LOCAL_ANSWER_SENT → ACTIVE → CLOSED
//
// CLOSED is terminal and reachable from every phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLocalOfferSent
	PhaseRemoteAnswerApplied
	PhaseRemoteOfferApplied
	PhaseLocalAnswerSent
	PhaseActive
	PhaseClosed
)

var phaseNames = [...]string{
	PhaseIdle:                "IDLE",
	PhaseLocalOfferSent:      "LOCAL_OFFER_SENT",
	PhaseRemoteAnswerApplied: "REMOTE_ANSWER_APPLIED",
	PhaseRemoteOfferApplied:  "REMOTE_OFFER_APPLIED",
	PhaseLocalAnswerSent:     "LOCAL_ANSWER_SENT",
	PhaseActive:              "ACTIVE",
	PhaseClosed:              "CLOSED",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseClosed
}
