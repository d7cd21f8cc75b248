package peer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/1ureka/echortc/internal/util"
)

// oggPageDuration is the pacing interval of the player. Opus files produced by
// common encoders carry 20ms per page.
const oggPageDuration = 20 * time.Millisecond

// player streams an Ogg/Opus file into a sample track.
type player struct {
	path  string
	track *webrtc.TrackLocalStaticSample
}

// newPlayer checks that path is a readable Ogg/Opus file and adds its track.
func newPlayer(pc *webrtc.PeerConnection, path, id string) (*player, error) {
	log := util.ConnLogger(id)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file: %w", err)
	}
	_, header, err := oggreader.NewWith(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read Ogg header of %s: %w", path, err)
	}
	log.Debug("media file %s: %d channel(s), %d Hz", path, header.Channels, header.SampleRate)

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"echortc-"+util.ShortID(id),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		return nil, fmt.Errorf("failed to add audio track: %w", err)
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return &player{path: path, track: track}, nil
}

// play writes every page of the file, paced in real time, until the end of
// file or until stop is closed.
func (p *player) play(id string, stop <-chan struct{}) {
	log := util.ConnLogger(id)

	f, err := os.Open(p.path)
	if err != nil {
		log.Error("failed to open media file: %v", err)
		return
	}
	defer f.Close()

	ogg, _, err := oggreader.NewWith(f)
	if err != nil {
		log.Error("failed to read Ogg header: %v", err)
		return
	}

	log.Info("playing %s", p.path)

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	var pages int
	for {
		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			log.Info("playback finished (%d pages)", pages)
			return
		}
		if err != nil {
			log.Error("failed to parse Ogg page: %v", err)
			return
		}

		// The granule position is the running sample count at 48kHz.
		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration((sampleCount/48000)*1000) * time.Millisecond

		if err := p.track.WriteSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			log.Warning("failed to write sample: %v", err)
			return
		}
		pages++

		select {
		case <-ticker.C:
		case <-stop:
			return
		}
	}
}
