package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/1ureka/echortc/internal/config"
	"github.com/1ureka/echortc/internal/peer"
	"github.com/1ureka/echortc/internal/signaling"
	"github.com/1ureka/echortc/internal/transport"
	"github.com/1ureka/echortc/internal/util"
)

// RunClient orchestrates the full client lifecycle:
//  1. Create the media engine and the session's peer
//  2. Connect to the signaling server
//  3. Negotiate and play the media file until it ends
//  4. Close the peer, then the WS connection
func RunClient(ctx context.Context, cfg config.Config) error {
	wsURL, err := config.NormalizeWSURL(cfg.ServerURL)
	if err != nil {
		return err
	}

	// ── 1. Media engine ───────────────────────────────────────────────
	api, err := peer.NewAPI(peer.Options{ICEServers: cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("failed to create media engine: %w", err)
	}

	id := uuid.NewString()
	log := util.ConnLogger(id)
	h, err := api.NewInitiator(id, peer.InitiatorOptions{
		MediaFile:  cfg.MediaFile,
		RecordFile: cfg.RecordFile,
	})
	if err != nil {
		return err
	}

	// ── 2. Connect to WS server ───────────────────────────────────────
	util.LogInfo("connecting to %s", wsURL)
	ch, err := transport.Dial(ctx, wsURL, channelOptions(cfg))
	if err != nil {
		_ = h.Close()
		return err
	}
	log.Info("WS connected")

	if cfg.MediaFile == "" {
		util.LogWarning("no media file given: receiving only, stop with Ctrl+C")
	}
	if cfg.RecordFile != "" {
		util.LogInfo("recording echo to %s", cfg.RecordFile)
	}

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	// ── 3 & 4. Negotiate, wait for media end, tear down ───────────────
	return signaling.Initiate(ctx, id, ch, h, signaling.InitiatorOptions{
		NegotiationTimeout: cfg.NegotiationTimeout,
		MediaTimeout:       cfg.MediaTimeout,
		PeerErrors:         cfg.PeerErrors,
	})
}
