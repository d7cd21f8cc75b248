package session

import "errors"

// Error taxonomy shared by the session and signaling packages. Concrete errors
// wrap one of these sentinels; match them with errors.Is.
var (
	// ErrProtocolViolation marks an envelope that is well-formed but not
	// acceptable in the current phase. The envelope is dropped and the
	// connection continues.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTransport marks a signaling channel that closed or failed. The
	// associated session is torn down.
	ErrTransport = errors.New("transport failure")

	// ErrEngine marks an operation rejected by the media engine. The session
	// cannot recover mid-negotiation and is torn down.
	ErrEngine = errors.New("engine failure")

	ErrClosed             = errors.New("session closed")
	ErrDuplicateSession   = errors.New("session already registered")
	ErrNegotiationTimeout = errors.New("negotiation deadline exceeded")
	ErrMediaTimeout       = errors.New("media exchange deadline exceeded")
)
