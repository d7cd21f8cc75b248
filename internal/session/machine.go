// Package session implements the per-connection negotiation state machine and
// the registry that tracks live sessions on the server.
package session

import (
	"fmt"
	"sync"

	"github.com/1ureka/echortc/internal/protocol"
	"github.com/1ureka/echortc/internal/util"
)

// Handle is the media-engine side of one peer session. The Machine issues
// commands to it and receives local candidates through OnLocalCandidate.
type Handle interface {
	CreateOffer() (protocol.Description, error)
	CreateAnswer() (protocol.Description, error)
	SetLocalDescription(desc protocol.Description) error
	SetRemoteDescription(desc protocol.Description) error
	AddICECandidate(c protocol.Candidate) error
	OnLocalCandidate(fn func(protocol.Candidate))
	Close() error
}

// Sender transmits envelopes on the signaling channel. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(env protocol.Envelope) error
}

// Machine drives one negotiation for a single signaling connection. It owns
// exactly one Handle and releases it exactly once.
//
// Start and HandleEnvelope are called from the connection's own goroutine;
// local candidates arrive concurrently from the engine.
type Machine struct {
	id     string
	role   Role
	handle Handle
	out    Sender
	log    util.ConnLog

	opMu sync.Mutex // serializes Start / HandleEnvelope

	mu            sync.Mutex
	phase         Phase
	remoteSet     bool
	localSent     bool
	pendingRemote []protocol.Candidate
	pendingLocal  []protocol.Candidate
	onPhase       func(from, to Phase)

	activeCh  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option customizes a Machine.
type Option func(*Machine)

// WithObserver registers fn to be called on every phase transition. fn runs
// with the Machine's lock held and must not call back into the Machine.
func WithObserver(fn func(from, to Phase)) Option {
	return func(m *Machine) { m.onPhase = fn }
}

// NewMachine creates a Machine in PhaseIdle and subscribes to the handle's
// local candidate notifications.
func NewMachine(id string, role Role, h Handle, out Sender, opts ...Option) *Machine {
	m := &Machine{
		id:       id,
		role:     role,
		handle:   h,
		out:      out,
		log:      util.ConnLogger(id),
		phase:    PhaseIdle,
		activeCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	h.OnLocalCandidate(m.onLocalCandidate)

	return m
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// ID returns the session identifier used in logs and in the registry.
func (m *Machine) ID() string { return m.id }

// Role returns the negotiation role.
func (m *Machine) Role() Role { return m.role }

// Phase returns the current negotiation phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Active returns a channel that is closed once the session reaches ACTIVE.
func (m *Machine) Active() <-chan struct{} { return m.activeCh }

// Done returns a channel that is closed once the session is closed.
func (m *Machine) Done() <-chan struct{} { return m.done }

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// Start creates the local offer, applies it and transmits it. Only valid for
// an initiator in IDLE.
func (m *Machine) Start() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.role != RoleInitiator {
		return fmt.Errorf("%w: %s cannot create an offer", ErrProtocolViolation, m.role)
	}
	if p := m.Phase(); p != PhaseIdle {
		if p.Terminal() {
			return ErrClosed
		}
		return fmt.Errorf("%w: offer already created (phase %s)", ErrProtocolViolation, p)
	}

	offer, err := m.handle.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer: %w", ErrEngine, err)
	}
	if err := m.handle.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer: %w", ErrEngine, err)
	}

	return m.sendLocalDescription(offer, PhaseLocalOfferSent)
}

// HandleEnvelope drives the state machine with one inbound envelope.
//
// Errors wrapping ErrProtocolViolation mean the envelope was dropped and the
// session is unchanged. Errors wrapping ErrEngine or ErrTransport mean the
// session cannot continue and should be torn down.
func (m *Machine) HandleEnvelope(env protocol.Envelope) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.Phase().Terminal() {
		return ErrClosed
	}

	switch env.Type {
	case protocol.KindOffer:
		return m.handleOffer(env)
	case protocol.KindAnswer:
		return m.handleAnswer(env)
	case protocol.KindICE:
		return m.handleRemoteCandidate(*env.ICE)
	case protocol.KindError:
		m.log.Warning("peer reported error: %s: %s", env.Error.Code, env.Error.Message)
		return nil
	default:
		return fmt.Errorf("%w: unexpected envelope type %q", ErrProtocolViolation, env.Type)
	}
}

// handleOffer applies a remote offer and answers it (responder only).
func (m *Machine) handleOffer(env protocol.Envelope) error {
	if m.role != RoleResponder {
		return fmt.Errorf("%w: %s received an offer", ErrProtocolViolation, m.role)
	}
	if p := m.Phase(); p != PhaseIdle {
		return fmt.Errorf("%w: offer received in phase %s", ErrProtocolViolation, p)
	}

	desc, _ := env.Description()
	if err := m.applyRemoteDescription(desc, PhaseRemoteOfferApplied); err != nil {
		return err
	}

	answer, err := m.handle.CreateAnswer()
	if err != nil {
		return fmt.Errorf("%w: create answer: %w", ErrEngine, err)
	}
	if err := m.handle.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: set local answer: %w", ErrEngine, err)
	}

	return m.sendLocalDescription(answer, PhaseLocalAnswerSent, PhaseActive)
}

// handleAnswer applies the remote answer (initiator only).
func (m *Machine) handleAnswer(env protocol.Envelope) error {
	if m.role != RoleInitiator {
		return fmt.Errorf("%w: %s received an answer", ErrProtocolViolation, m.role)
	}
	if p := m.Phase(); p != PhaseLocalOfferSent {
		return fmt.Errorf("%w: answer received in phase %s", ErrProtocolViolation, p)
	}

	desc, _ := env.Description()
	if err := m.applyRemoteDescription(desc, PhaseRemoteAnswerApplied); err != nil {
		return err
	}

	m.mu.Lock()
	m.setPhase(PhaseActive)
	m.mu.Unlock()
	return nil
}

// handleRemoteCandidate forwards a remote candidate to the engine, or queues it
// until the remote description is applied.
func (m *Machine) handleRemoteCandidate(c protocol.Candidate) error {
	m.mu.Lock()
	if !m.remoteSet {
		m.pendingRemote = append(m.pendingRemote, c)
		n := len(m.pendingRemote)
		m.mu.Unlock()
		m.log.Debug("queued remote candidate (%d pending)", n)
		return nil
	}
	m.mu.Unlock()

	if err := m.handle.AddICECandidate(c); err != nil {
		return fmt.Errorf("%w: add ICE candidate: %w", ErrEngine, err)
	}
	return nil
}

// applyRemoteDescription sets the remote description, moves to phase and
// flushes queued remote candidates in receipt order.
func (m *Machine) applyRemoteDescription(desc protocol.Description, phase Phase) error {
	if err := m.handle.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("%w: set remote %s: %w", ErrEngine, desc.Type, err)
	}

	m.mu.Lock()
	m.remoteSet = true
	pending := m.pendingRemote
	m.pendingRemote = nil
	m.setPhase(phase)
	m.mu.Unlock()

	for i, c := range pending {
		if err := m.handle.AddICECandidate(c); err != nil {
			return fmt.Errorf("%w: add queued ICE candidate %d/%d: %w", ErrEngine, i+1, len(pending), err)
		}
	}
	if len(pending) > 0 {
		m.log.Debug("flushed %d queued remote candidates", len(pending))
	}
	return nil
}

// sendLocalDescription transmits the local description, then releases local
// candidates gathered so far, then walks through phases. The lock is held for
// the whole sequence so no candidate can overtake the description.
func (m *Machine) sendLocalDescription(desc protocol.Description, phases ...Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase.Terminal() {
		return ErrClosed
	}

	if err := m.out.Send(protocol.NewDescription(desc)); err != nil {
		return fmt.Errorf("%w: send %s: %w", ErrTransport, desc.Type, err)
	}

	m.localSent = true
	pending := m.pendingLocal
	m.pendingLocal = nil
	for _, c := range pending {
		m.sendCandidateLocked(c)
	}

	for _, p := range phases {
		m.setPhase(p)
	}
	return nil
}

// onLocalCandidate is the engine callback for newly gathered local candidates.
func (m *Machine) onLocalCandidate(c protocol.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase.Terminal() {
		return
	}
	if !m.localSent {
		m.pendingLocal = append(m.pendingLocal, c)
		return
	}
	m.sendCandidateLocked(c)
}

// sendCandidateLocked sends one local candidate. Failures are logged only:
// trickled candidates are best-effort. Caller holds m.mu.
func (m *Machine) sendCandidateLocked(c protocol.Candidate) {
	if err := m.out.Send(protocol.NewCandidate(c)); err != nil {
		m.log.Warning("failed to send local candidate: %v", err)
	}
}

// setPhase records a transition and notifies the observer. Caller holds m.mu.
func (m *Machine) setPhase(to Phase) {
	from := m.phase
	if from == to || from.Terminal() {
		return
	}
	m.phase = to
	if to == PhaseActive {
		close(m.activeCh)
	}
	if m.onPhase != nil {
		m.onPhase(from, to)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close moves the session to CLOSED and releases the engine handle. Safe to
// call multiple times and from any goroutine; the handle is closed once.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.setPhase(PhaseClosed)
		m.pendingLocal = nil
		m.pendingRemote = nil
		m.mu.Unlock()

		m.closeErr = m.handle.Close()
		close(m.done)
	})
	return m.closeErr
}
