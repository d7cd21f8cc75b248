package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/echortc/internal/session"
	"github.com/1ureka/echortc/internal/transport"
	"github.com/1ureka/echortc/internal/util"
)

// Respond services one accepted connection: it registers a responder session
// under id, answers the offer, echoes incoming audio and returns when the
// channel closes, the engine fails, the media ends or ctx is done.
//
// Respond owns p and ch. On return the session has been removed from reg and
// closed exactly once. A peer disconnecting normally is not an error.
func Respond(ctx context.Context, id string, ch Channel, p Peer, reg *session.Registry, peerErrors bool) error {
	log := util.ConnLogger(id)
	m := session.NewMachine(id, session.RoleResponder, p, ch, logTransition(id))

	if err := reg.Register(id, m); err != nil {
		_ = m.Close()
		_ = ch.Close()
		return err
	}
	util.Stats.OpenSession()

	defer func() {
		reg.Remove(id)
		if err := m.Close(); err != nil {
			log.Warning("failed to close peer: %v", err)
		}
		_ = ch.Close()
		util.Stats.CloseSession()
	}()

	p.OnRemoteTrack(func(t session.Track) {
		log.Debug("attaching echo to %s track %s", t.Kind(), t.ID())
		if err := p.AttachEcho(t); err != nil {
			log.Warning("cannot echo track %s: %v", t.ID(), err)
		}
	})

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	r := &receiver{id: id, ch: ch, m: m, peerErrors: peerErrors}
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- r.watch(watchCtx)
	}()

	select {
	case err := <-watchErr:
		if errors.Is(err, session.ErrTransport) {
			if transport.IsNormalClose(err) {
				log.Info("client disconnected")
			} else {
				log.Info("connection lost: %v", err)
			}
			return nil
		}
		return fmt.Errorf("session %s: %w", util.ShortID(id), err)

	case <-p.MediaDone():
		log.Info("media ended, closing connection")
		return nil

	case <-m.Done():
		log.Debug("session closed")
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}
