// Package signaling runs the offer/answer exchange for both roles over a
// signaling channel: the client initiates one negotiation and waits for its
// media to end, the server answers every connection and echoes its audio.
package signaling

import (
	"context"

	"github.com/1ureka/echortc/internal/session"
	"github.com/1ureka/echortc/internal/util"
)

// Peer is the engine side of one session as seen by the orchestrators.
type Peer interface {
	session.Handle

	// OnRemoteTrack registers the hook invoked for every incoming track.
	OnRemoteTrack(fn func(session.Track))

	// AttachEcho sends an incoming track back to the remote side.
	AttachEcho(t session.Track) error

	// MediaDone is closed when the media exchange is over.
	MediaDone() <-chan struct{}
}

// Channel is one signaling connection. Next returns frames in receipt order
// and must be unblocked by Close.
type Channel interface {
	session.Sender
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// logTransition returns a phase observer that logs at debug level.
func logTransition(id string) session.Option {
	log := util.ConnLogger(id)
	return session.WithObserver(func(from, to session.Phase) {
		log.Debug("%s → %s", from, to)
	})
}
