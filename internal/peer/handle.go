package peer

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/echortc/internal/protocol"
	"github.com/1ureka/echortc/internal/session"
	"github.com/1ureka/echortc/internal/util"
)

// ErrEchoUnavailable is returned by AttachEcho when the handle has no echo
// track or the track cannot be echoed.
var ErrEchoUnavailable = errors.New("echo unavailable")

// Handle wraps a single PeerConnection. It implements session.Handle plus the
// media hooks used by the orchestrators.
//
// Its media lifetime ends when playback completes, when the PeerConnection
// fails or closes, or when Close is called, whichever comes first.
type Handle struct {
	id  string
	pc  *webrtc.PeerConnection
	log util.ConnLog

	echo     *echoTrack
	player   *player
	recorder *recorder

	mu      sync.Mutex
	onTrack func(session.Track)

	playOnce  sync.Once
	mediaDone chan struct{}
	mediaOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ session.Handle = (*Handle)(nil)

func newHandle(id string, pc *webrtc.PeerConnection) *Handle {
	h := &Handle{
		id:        id,
		pc:        pc,
		log:       util.ConnLogger(id),
		mediaDone: make(chan struct{}),
		closed:    make(chan struct{}),
	}

	pc.OnConnectionStateChange(h.handleStateChange)
	pc.OnTrack(h.handleTrack)

	return h
}

// ID returns the session identifier the handle was created for.
func (h *Handle) ID() string { return h.id }

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (h *Handle) CreateOffer() (protocol.Description, error) {
	sdp, err := h.pc.CreateOffer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	return fromSessionDescription(sdp), nil
}

// CreateAnswer generates an SDP answer.
func (h *Handle) CreateAnswer() (protocol.Description, error) {
	sdp, err := h.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.Description{}, err
	}
	return fromSessionDescription(sdp), nil
}

// SetLocalDescription applies the local SDP. Candidate gathering starts here.
func (h *Handle) SetLocalDescription(desc protocol.Description) error {
	sdp, err := toSessionDescription(desc)
	if err != nil {
		return err
	}
	return h.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP.
func (h *Handle) SetRemoteDescription(desc protocol.Description) error {
	sdp, err := toSessionDescription(desc)
	if err != nil {
		return err
	}
	return h.pc.SetRemoteDescription(sdp)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (h *Handle) AddICECandidate(c protocol.Candidate) error {
	return h.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// OnLocalCandidate registers fn for every gathered local candidate. The end
// of gathering (nil candidate) is not reported.
func (h *Handle) OnLocalCandidate(fn func(protocol.Candidate)) {
	h.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			h.log.Debug("ICE gathering complete")
			return
		}
		ci := c.ToJSON()
		fn(protocol.Candidate{
			Candidate:        ci.Candidate,
			SDPMid:           ci.SDPMid,
			SDPMLineIndex:    ci.SDPMLineIndex,
			UsernameFragment: ci.UsernameFragment,
		})
	})
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// OnRemoteTrack registers fn for every incoming track. fn runs on the
// engine's goroutine and must not block.
func (h *Handle) OnRemoteTrack(fn func(session.Track)) {
	h.mu.Lock()
	h.onTrack = fn
	h.mu.Unlock()
}

// AttachEcho sends t back to the remote peer on the reserved echo track. Only
// one Opus track can be echoed per session.
func (h *Handle) AttachEcho(t session.Track) error {
	rt, ok := t.(*remoteTrack)
	if !ok {
		return fmt.Errorf("%w: foreign track %T", ErrEchoUnavailable, t)
	}
	if h.echo == nil {
		return fmt.Errorf("%w: handle has no echo track", ErrEchoUnavailable)
	}
	if !strings.EqualFold(rt.Codec(), webrtc.MimeTypeOpus) {
		return fmt.Errorf("%w: codec %s", ErrEchoUnavailable, rt.Codec())
	}
	return h.echo.attach(rt.track)
}

// MediaDone returns a channel that is closed when the media exchange ends.
func (h *Handle) MediaDone() <-chan struct{} {
	return h.mediaDone
}

// ConnectionState returns the current PeerConnection state.
func (h *Handle) ConnectionState() webrtc.PeerConnectionState {
	return h.pc.ConnectionState()
}

func (h *Handle) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	rt := &remoteTrack{track: track, receiver: receiver}
	h.log.Info("remote %s track %s (%s)", rt.Kind(), rt.ID(), rt.Codec())

	if h.recorder != nil && track.Kind() == webrtc.RTPCodecTypeAudio {
		go h.recorder.record(h.id, track)
	}

	h.mu.Lock()
	fn := h.onTrack
	h.mu.Unlock()
	if fn != nil {
		fn(rt)
	}
}

func (h *Handle) handleStateChange(state webrtc.PeerConnectionState) {
	h.log.Debug("PeerConnection state: %s", state)

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if h.player != nil {
			h.playOnce.Do(func() {
				go func() {
					h.player.play(h.id, h.closed)
					h.endMedia("playback finished")
				}()
			})
		}
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		h.endMedia("PeerConnection " + state.String())
	}
}

func (h *Handle) endMedia(reason string) {
	h.mediaOnce.Do(func() {
		h.log.Debug("media ended: %s", reason)
		close(h.mediaDone)
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the PeerConnection and flushes the recording. Safe to
// call multiple times; only the first call does any work.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		errs := []error{h.pc.Close()}
		if h.recorder != nil {
			errs = append(errs, h.recorder.close())
		}
		h.endMedia("handle closed")
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func toSessionDescription(desc protocol.Description) (webrtc.SessionDescription, error) {
	switch desc.Type {
	case protocol.SDPTypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}, nil
	case protocol.SDPTypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported description type %q", desc.Type)
	}
}

func fromSessionDescription(sdp webrtc.SessionDescription) protocol.Description {
	t := protocol.SDPTypeOffer
	if sdp.Type == webrtc.SDPTypeAnswer {
		t = protocol.SDPTypeAnswer
	}
	return protocol.Description{Type: t, SDP: sdp.SDP}
}

// remoteTrack exposes a pion remote track as a session.Track.
type remoteTrack struct {
	track    *webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (t *remoteTrack) ID() string    { return t.track.ID() }
func (t *remoteTrack) Kind() string  { return t.track.Kind().String() }
func (t *remoteTrack) Codec() string { return t.track.Codec().MimeType }
