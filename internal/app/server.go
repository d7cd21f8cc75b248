// Package app contains the top-level orchestration for server and client
// roles.
package app

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"

	"github.com/1ureka/echortc/internal/config"
	"github.com/1ureka/echortc/internal/peer"
	"github.com/1ureka/echortc/internal/signaling"
	"github.com/1ureka/echortc/internal/transport"
	"github.com/1ureka/echortc/internal/util"
)

// RunServer orchestrates the full server lifecycle:
//  1. Create the media engine
//  2. Start the WS signaling server
//  3. Answer and echo every client until ctx is cancelled
//  4. Close every live session and the listener
func RunServer(ctx context.Context, cfg config.Config) error {
	// ── 1. Media engine ───────────────────────────────────────────────
	api, err := peer.NewAPI(peer.Options{ICEServers: cfg.ICEServers})
	if err != nil {
		return fmt.Errorf("failed to create media engine: %w", err)
	}

	// ── 2. Signaling server ───────────────────────────────────────────
	server := signaling.NewServer(func(id string) (signaling.Peer, error) {
		h, err := api.NewResponder(id)
		if err != nil {
			return nil, err
		}
		return h, nil
	}, signaling.ServerOptions{
		Path:       cfg.Path,
		Channel:    channelOptions(cfg),
		PeerErrors: cfg.PeerErrors,
	})

	addr, err := server.Listen(cfg.Listen)
	if err != nil {
		return err
	}

	pterm.DefaultBox.WithTitle("WebSocket Signaling Server").Println(
		fmt.Sprintf("Listen : %s\nPath   : %s", addr, cfg.Path),
	)
	util.LogInfo("waiting for clients on ws://%s%s", addr, cfg.Path)

	util.StartStatsReporter(ctx, cfg.StatsInterval)

	// ── 3. Serve until shutdown ───────────────────────────────────────
	<-ctx.Done()

	// ── 4. Shutdown ───────────────────────────────────────────────────
	util.LogInfo("shutting down, closing %d live session(s)", server.Registry().Len())

	shutdownCtx := context.Background()
	if cfg.ShutdownGracePeriod > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, cfg.ShutdownGracePeriod)
		defer cancel()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// channelOptions maps the signaling hygiene settings onto the transport.
func channelOptions(cfg config.Config) transport.Options {
	return transport.Options{
		WriteTimeout:      cfg.WriteTimeout,
		PongTimeout:       cfg.PongTimeout,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
	}
}
