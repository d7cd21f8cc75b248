package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1ureka/echortc/internal/session"
	"github.com/1ureka/echortc/internal/util"
)

// InitiatorOptions bounds the two waits of Initiate. Zero disables a bound.
type InitiatorOptions struct {
	NegotiationTimeout time.Duration
	MediaTimeout       time.Duration
	PeerErrors         bool
}

// Initiate executes the full client-side flow on an established channel:
//  1. Send the offer and trickle local candidates after it
//  2. Apply the answer and remote candidates until the session is ACTIVE
//  3. Wait for the media exchange to end
//  4. Close the peer, then the channel
//
// Initiate owns p and ch: both are closed when it returns. If the channel
// fails before the answer arrives the returned error wraps
// session.ErrTransport. An expired media deadline returns
// session.ErrMediaTimeout.
func Initiate(ctx context.Context, id string, ch Channel, p Peer, opts InitiatorOptions) error {
	log := util.ConnLogger(id)
	m := session.NewMachine(id, session.RoleInitiator, p, ch, logTransition(id))

	util.Stats.OpenSession()
	defer util.Stats.CloseSession()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	teardown := func() {
		stopWatch()
		if err := m.Close(); err != nil {
			log.Warning("failed to close peer: %v", err)
		}
		if err := ch.Close(); err != nil {
			log.Debug("failed to close channel: %v", err)
		}
	}

	r := &receiver{id: id, ch: ch, m: m, peerErrors: opts.PeerErrors}
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- r.watch(watchCtx)
	}()

	if err := m.Start(); err != nil {
		teardown()
		return fmt.Errorf("failed to send offer: %w", err)
	}
	log.Info("offer sent, waiting for answer")

	// Negotiation.
	negotiationDeadline, stopNegotiation := deadline(opts.NegotiationTimeout)
	defer stopNegotiation()

	select {
	case <-m.Active():
		log.Success("session active")

	case err := <-watchErr:
		teardown()
		return fmt.Errorf("negotiation aborted: %w", err)

	case <-negotiationDeadline:
		teardown()
		return fmt.Errorf("%w: no answer within %s", session.ErrNegotiationTimeout, opts.NegotiationTimeout)

	case <-ctx.Done():
		teardown()
		return ctx.Err()
	}

	// Media exchange. The channel is only needed for late candidates now, so
	// losing it does not end the session.
	mediaDeadline, stopMedia := deadline(opts.MediaTimeout)
	defer stopMedia()

	for {
		select {
		case <-p.MediaDone():
			log.Info("media exchange finished")
			teardown()
			return nil

		case err := <-watchErr:
			watchErr = nil
			if errors.Is(err, session.ErrEngine) {
				teardown()
				return err
			}
			log.Debug("signaling channel gone after negotiation: %v", err)

		case <-mediaDeadline:
			teardown()
			return fmt.Errorf("%w: media still running after %s", session.ErrMediaTimeout, opts.MediaTimeout)

		case <-ctx.Done():
			teardown()
			return ctx.Err()
		}
	}
}

// deadline returns a channel that fires after d, or never when d is zero.
func deadline(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	timer := time.NewTimer(d)
	return timer.C, func() { timer.Stop() }
}
