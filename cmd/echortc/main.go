// Echortc is the CLI entry point.
//
// The server relays WebRTC negotiation (offer, answer, ICE candidates) over
// WebSocket and echoes every client's audio back to it. The client negotiates
// one session, plays an Ogg/Opus file to the server and exits when playback
// ends.
//
// It can be launched interactively (no --role) or non-interactively via CLI
// flags, optionally on top of a YAML file given with --config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"

	"github.com/1ureka/echortc/internal/app"
	"github.com/1ureka/echortc/internal/config"
	"github.com/1ureka/echortc/internal/util"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, trace, err := parseConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	switch {
	case trace:
		util.EnableTrace()
	case cfg.Debug:
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("echortc — v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		// No --role → interactive mode.
		cfg = runInteractive(cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("invalid configuration: %v", err)
		os.Exit(1)
	}

	switch cfg.Role {
	case config.RoleServer:
		if err := app.RunServer(ctx, cfg); err != nil {
			util.LogError("server failed: %v", err)
			os.Exit(1)
		}
		util.LogInfo("server stopped")

	case config.RoleClient:
		if err := app.RunClient(ctx, cfg); err != nil {
			if errors.Is(err, context.Canceled) {
				util.LogInfo("interrupted")
				return
			}
			util.LogError("session failed: %v", err)
			os.Exit(1)
		}
		util.LogSuccess("media exchange complete, connection closed")
	}
}

// parseConfig builds the configuration from defaults, the optional YAML file
// and the command line, in increasing precedence.
func parseConfig(args []string) (config.Config, bool, error) {
	// First pass: only find --config so the file can seed the flag defaults.
	pre := pflag.NewFlagSet("echortc", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	path := pre.StringP("config", "c", "", "")
	_ = pre.Parse(args)

	cfg, err := config.Load(*path)
	if err != nil {
		return config.Config{}, false, err
	}

	var trace bool

	fs := pflag.NewFlagSet("echortc", pflag.ContinueOnError)
	fs.StringP("config", "c", *path, "YAML configuration file")
	fs.StringVar((*string)(&cfg.Role), "role", string(cfg.Role), "Role: server or client (interactive when empty)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	fs.BoolVar(&trace, "trace", false, "Enable trace logging, including the media engine")

	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "Address the server binds (server only)")
	fs.StringVar(&cfg.Path, "path", cfg.Path, "Signaling endpoint path (server only)")
	fs.StringVar(&cfg.ServerURL, "url", cfg.ServerURL, "Signaling server URL (client only)")
	fs.StringSliceVar(&cfg.ICEServers, "ice", cfg.ICEServers, "STUN/TURN server URLs")

	fs.StringVar(&cfg.MediaFile, "media", cfg.MediaFile, "Ogg/Opus file to play (client only)")
	fs.StringVar(&cfg.RecordFile, "record", cfg.RecordFile, "Ogg file to record the echo into (client only)")
	fs.DurationVar(&cfg.NegotiationTimeout, "negotiation-timeout", cfg.NegotiationTimeout, "Bound on the wait for the answer, 0 disables")
	fs.DurationVar(&cfg.MediaTimeout, "media-timeout", cfg.MediaTimeout, "Bound on the media exchange, 0 disables")

	fs.BoolVar(&cfg.PeerErrors, "peer-errors", cfg.PeerErrors, "Report rejected envelopes to the peer")
	fs.IntVar(&cfg.MessagesPerSecond, "rate", cfg.MessagesPerSecond, "Inbound signaling messages per second per connection, 0 disables")
	fs.DurationVar(&cfg.StatsInterval, "stats-interval", cfg.StatsInterval, "Statistics log interval, 0 disables")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, false, err
	}
	if fs.NArg() > 0 {
		return config.Config{}, false, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	return cfg, trace, nil
}

// ---------------------------------------------------------------------------
// Interactive mode
// ---------------------------------------------------------------------------

// runInteractive asks for the role and the role's essential settings.
func runInteractive(cfg config.Config) config.Config {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — Answer clients and echo their audio", "Client — Send audio to a server"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Server") {
		cfg.Role = config.RoleServer
		return cfg
	}

	cfg.Role = config.RoleClient
	cfg.ServerURL = askURL(cfg.ServerURL)
	cfg.MediaFile = askMediaFile(cfg.MediaFile)
	return cfg
}

// askURL prompts the user for a valid WebSocket URL until one is entered.
func askURL(def string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Signaling server URL").
			WithDefaultValue(def).
			Show()

		wsURL, err := config.NormalizeWSURL(raw)
		if err == nil {
			pterm.Println()
			return wsURL
		}

		pterm.Println()
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}

// askMediaFile prompts for an Ogg/Opus file. An empty answer means receive
// only.
func askMediaFile(def string) string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Ogg/Opus file to play (empty to only receive)").
			WithDefaultValue(def).
			Show()

		path := strings.TrimSpace(raw)
		pterm.Println()
		if path == "" {
			return ""
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}

		util.LogWarning("cannot read %s", path)
	}
}
