package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrMalformed is returned by Decode for any frame that is not a valid
	// envelope. Every other decode error wraps it.
	ErrMalformed = errors.New("protocol: malformed envelope")

	ErrUnknownType        = fmt.Errorf("%w: unknown type", ErrMalformed)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrMalformed)
)

// wireEnvelope mirrors Envelope with pointer fields so that presence can be
// told apart from zero values. Candidate holds the legacy ICE payload key.
type wireEnvelope struct {
	Type      Kind       `json:"type"`
	Version   *int       `json:"version"`
	Offer     *string    `json:"offer"`
	Answer    *string    `json:"answer"`
	ICE       *Candidate `json:"ice"`
	Candidate *Candidate `json:"candidate"`
	Error     *ErrorInfo `json:"error"`
}

// Encode validates env and serializes it to a JSON text frame.
func Encode(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses one JSON text frame into an Envelope. The legacy
// "WebRTC_ICE_CANDIDATE" form is normalized to KindICE.
func Decode(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var w wireEnvelope
	if err := dec.Decode(&w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformed)
	}

	if w.Version != nil && *w.Version != Version1 {
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, *w.Version)
	}

	env := Envelope{Type: w.Type, ICE: w.ICE, Error: w.Error}
	if w.Offer != nil {
		env.Offer = *w.Offer
	}
	if w.Answer != nil {
		env.Answer = *w.Answer
	}

	switch w.Type {
	case KindOffer:
		if w.Offer == nil {
			return Envelope{}, fmt.Errorf("%w: offer message missing offer", ErrMalformed)
		}
	case KindAnswer:
		if w.Answer == nil {
			return Envelope{}, fmt.Errorf("%w: answer message missing answer", ErrMalformed)
		}
	case kindLegacyICE:
		if w.ICE != nil {
			return Envelope{}, fmt.Errorf("%w: legacy candidate message carries ice", ErrMalformed)
		}
		env.Type = KindICE
		env.ICE = w.Candidate
	case KindICE, KindError:
	case "":
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return Envelope{}, fmt.Errorf("%w %q", ErrUnknownType, w.Type)
	}

	if env.Type != KindICE && w.Candidate != nil {
		return Envelope{}, fmt.Errorf("%w: %s message has unexpected candidate", ErrMalformed, env.Type)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that exactly the payload matching Type is populated.
func (e Envelope) Validate() error {
	hasOffer := e.Offer != ""
	hasAnswer := e.Answer != ""
	hasICE := e.ICE != nil
	hasError := e.Error != nil

	switch e.Type {
	case KindOffer:
		if !hasOffer {
			return fmt.Errorf("%w: offer message missing offer", ErrMalformed)
		}
		if hasAnswer || hasICE || hasError {
			return fmt.Errorf("%w: offer message has unexpected fields", ErrMalformed)
		}
	case KindAnswer:
		if !hasAnswer {
			return fmt.Errorf("%w: answer message missing answer", ErrMalformed)
		}
		if hasOffer || hasICE || hasError {
			return fmt.Errorf("%w: answer message has unexpected fields", ErrMalformed)
		}
	case KindICE:
		if !hasICE {
			return fmt.Errorf("%w: ice message missing ice", ErrMalformed)
		}
		if e.ICE.Candidate == "" {
			return fmt.Errorf("%w: ice message missing candidate", ErrMalformed)
		}
		if hasOffer || hasAnswer || hasError {
			return fmt.Errorf("%w: ice message has unexpected fields", ErrMalformed)
		}
	case KindError:
		if !hasError || e.Error.Code == "" {
			return fmt.Errorf("%w: error message missing code", ErrMalformed)
		}
		if hasOffer || hasAnswer || hasICE {
			return fmt.Errorf("%w: error message has unexpected fields", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownType, e.Type)
	}

	if e.Version != 0 && e.Version != Version1 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, e.Version)
	}
	return nil
}
