// Package peer adapts pion/webrtc to the engine surface the negotiation core
// drives: one Handle per negotiated audio session.
package peer

import (
	"fmt"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/echortc/internal/util"
)

// Options configures the shared engine.
type Options struct {
	// ICEServers are STUN/TURN URLs, e.g. stun:stun.l.google.com:19302.
	ICEServers []string

	// Net replaces the OS network stack, e.g. with a pion vnet in tests.
	Net transport.Net
}

// API builds PeerConnections with a common media and network setup. It is
// safe for concurrent use.
type API struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewAPI creates the engine with the default codecs registered and pion's
// logs routed into the process logger.
func NewAPI(opts Options) (*API, error) {
	se := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	config := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}

	return &API{
		api: webrtc.NewAPI(
			webrtc.WithSettingEngine(se),
			webrtc.WithMediaEngine(mediaEngine),
		),
		config: config,
	}, nil
}

// NewResponder creates the answering side of a session. An Opus send track is
// reserved up front so the echo flows on the negotiated transceiver without a
// renegotiation round.
func (a *API) NewResponder(id string) (*Handle, error) {
	pc, err := a.api.NewPeerConnection(a.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	h := newHandle(id, pc)

	echo, err := newEchoTrack(pc, id)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	h.echo = echo

	return h, nil
}

// InitiatorOptions selects the client media.
type InitiatorOptions struct {
	// MediaFile is an Ogg/Opus file played to the remote side. Empty means
	// receive only.
	MediaFile string

	// RecordFile receives the remote audio as Ogg/Opus. Empty disables.
	RecordFile string
}

// NewInitiator creates the offering side of a session.
func (a *API) NewInitiator(id string, opts InitiatorOptions) (*Handle, error) {
	pc, err := a.api.NewPeerConnection(a.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	h := newHandle(id, pc)

	if opts.MediaFile != "" {
		player, err := newPlayer(pc, opts.MediaFile, id)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		h.player = player
	} else {
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
		}
	}

	if opts.RecordFile != "" {
		rec, err := newRecorder(opts.RecordFile)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		h.recorder = rec
	}

	return h, nil
}
