package peer

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/echortc/internal/util"
)

// echoTrack is the send side of the echo: an Opus track added before the
// answer is created, fed with the RTP of one remote track.
type echoTrack struct {
	log      util.ConnLog
	track    *webrtc.TrackLocalStaticRTP
	sender   *webrtc.RTPSender
	attached atomic.Bool
}

func newEchoTrack(pc *webrtc.PeerConnection, id string) (*echoTrack, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"echortc",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to add echo track: %w", err)
	}

	e := &echoTrack{log: util.ConnLogger(id), track: track, sender: sender}
	go e.drainRTCP()
	return e, nil
}

// attach starts forwarding remote into the echo track. A second attach is
// rejected: the session has a single echo transceiver.
func (e *echoTrack) attach(remote *webrtc.TrackRemote) error {
	if !e.attached.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: echo already attached", ErrEchoUnavailable)
	}
	go e.pump(remote)
	return nil
}

// pump copies RTP packets until the remote track ends.
func (e *echoTrack) pump(remote *webrtc.TrackRemote) {
	var packets, bytes int
	defer func() {
		e.log.Debug("echo stopped after %d packets (%d bytes)", packets, bytes)
	}()

	e.log.Info("echoing track %s", remote.ID())

	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if err := e.track.WriteRTP(pkt); err != nil {
			if !errors.Is(err, io.ErrClosedPipe) {
				e.log.Warning("echo write failed: %v", err)
			}
			return
		}
		packets++
		bytes += len(pkt.Payload)
	}
}

// drainRTCP reads incoming RTCP so the sender's interceptors keep running.
func (e *echoTrack) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := e.sender.Read(buf); err != nil {
			return
		}
	}
}
