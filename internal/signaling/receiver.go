package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/1ureka/echortc/internal/protocol"
	"github.com/1ureka/echortc/internal/session"
	"github.com/1ureka/echortc/internal/util"
)

// receiver feeds inbound frames of one channel into its Machine.
type receiver struct {
	id         string
	ch         Channel
	m          *session.Machine
	peerErrors bool
}

// watch reads until the channel fails, the engine fails, or ctx is done.
// Malformed frames and protocol violations are dropped and reading goes on.
// The returned error wraps session.ErrTransport or session.ErrEngine, or is
// ctx's error.
func (r *receiver) watch(ctx context.Context) error {
	log := util.ConnLogger(r.id)

	for {
		data, err := r.ch.Next(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", session.ErrTransport, err)
		}

		env, err := protocol.Decode(data)
		if err != nil {
			util.Stats.AddViolation()
			log.Warning("dropped malformed envelope: %v", err)
			r.report(protocol.CodeMalformed, err)
			continue
		}
		log.Debug("received %s", env.Type)

		err = r.m.HandleEnvelope(env)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrProtocolViolation):
			util.Stats.AddViolation()
			log.Warning("dropped %s: %v", env.Type, err)
			r.report(protocol.CodeProtocolViolation, err)
		case errors.Is(err, session.ErrEngine):
			r.report(protocol.CodeEngineFailure, err)
			return err
		default:
			return err
		}
	}
}

// report tells the peer why a frame was rejected when peer errors are on.
func (r *receiver) report(code string, cause error) {
	if !r.peerErrors {
		return
	}
	if err := r.ch.Send(protocol.NewError(code, cause.Error())); err != nil {
		util.ConnLogger(r.id).Debug("failed to report %s: %v", code, err)
	}
}
