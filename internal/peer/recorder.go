package peer

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/1ureka/echortc/internal/util"
)

// recorder writes the first remote audio track into an Ogg/Opus file.
type recorder struct {
	mu     sync.Mutex
	writer *oggwriter.OggWriter
	closed bool
}

func newRecorder(path string) (*recorder, error) {
	w, err := oggwriter.New(path, 48000, 2)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording %s: %w", path, err)
	}
	return &recorder{writer: w}, nil
}

// record copies RTP from track until it ends or the recorder is closed.
func (r *recorder) record(id string, track *webrtc.TrackRemote) {
	log := util.ConnLogger(id)
	var packets int
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug("recorded %d packets", packets)
			return
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return
		}
		err = r.writer.WriteRTP(pkt)
		r.mu.Unlock()

		if err != nil {
			log.Warning("failed to record packet: %v", err)
			return
		}
		packets++
	}
}

// close finalizes the file. Safe to call once recording has stopped or while
// it is still running.
func (r *recorder) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.writer.Close()
}
