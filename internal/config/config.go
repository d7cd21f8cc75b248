// Package config holds the runtime configuration for both roles.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Role represents the process role (signaling server or negotiating client).
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Config stores every tunable of the process. Zero values are replaced by
// Default() values in Load; CLI flags override file values.
type Config struct {
	Role  Role `yaml:"role"`
	Debug bool `yaml:"debug"`

	// Server: address to bind and the signaling path.
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`

	// Client: signaling server URL, e.g. ws://localhost:8080/ws.
	ServerURL string `yaml:"server_url"`

	// ICE servers handed to the media engine.
	ICEServers []string `yaml:"ice_servers"`

	// Client: Ogg/Opus file played to the server, and optional file the
	// echoed audio is recorded into.
	MediaFile  string `yaml:"media_file"`
	RecordFile string `yaml:"record_file"`

	// Client: bounds on the two waits of the initiator. Zero disables.
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	MediaTimeout       time.Duration `yaml:"media_timeout"`

	// Signaling channel hygiene.
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	MaxMessageBytes   int64         `yaml:"max_message_bytes"`
	MessagesPerSecond int           `yaml:"messages_per_second"`
	PeerErrors        bool          `yaml:"peer_errors"`

	StatsInterval       time.Duration `yaml:"stats_interval"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`
}

// DefaultICEServers are public STUN servers used when none are configured.
// No TURN: the tool targets direct P2P connectivity.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Listen:              "0.0.0.0:8080",
		Path:                "/ws",
		ServerURL:           "ws://localhost:8080/ws",
		ICEServers:          append([]string(nil), DefaultICEServers...),
		NegotiationTimeout:  30 * time.Second,
		WriteTimeout:        5 * time.Second,
		PongTimeout:         60 * time.Second,
		MaxMessageBytes:     64 * 1024,
		MessagesPerSecond:   50,
		StatsInterval:       10 * time.Second,
		ShutdownGracePeriod: 5 * time.Second,
	}
}

// Load reads a YAML config file on top of Default(). An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Role {
	case RoleServer, RoleClient, "":
	default:
		errs = append(errs, fmt.Errorf("invalid role %q: must be %q or %q", c.Role, RoleServer, RoleClient))
	}

	if c.Role == RoleServer || c.Role == "" {
		if c.Listen == "" {
			errs = append(errs, errors.New("listen address must not be empty"))
		}
		if !strings.HasPrefix(c.Path, "/") {
			errs = append(errs, fmt.Errorf("signaling path %q must start with /", c.Path))
		}
	}

	if c.Role == RoleClient {
		if _, err := NormalizeWSURL(c.ServerURL); err != nil {
			errs = append(errs, err)
		}
	}

	for _, s := range c.ICEServers {
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") &&
			!strings.HasPrefix(s, "turn:") && !strings.HasPrefix(s, "turns:") {
			errs = append(errs, fmt.Errorf("invalid ICE server URL %q", s))
		}
	}

	if c.NegotiationTimeout < 0 || c.MediaTimeout < 0 || c.WriteTimeout < 0 ||
		c.PongTimeout < 0 || c.StatsInterval < 0 || c.ShutdownGracePeriod < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.PongTimeout > 0 && c.PongTimeout < time.Second {
		errs = append(errs, fmt.Errorf("pong_timeout must be 0 or at least 1s, got %s", c.PongTimeout))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_message_bytes must be positive, got %d", c.MaxMessageBytes))
	}
	if c.MessagesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("messages_per_second must not be negative, got %d", c.MessagesPerSecond))
	}

	return errors.Join(errs...)
}

// NormalizeWSURL validates a WebSocket URL. A missing scheme defaults to ws
// and a missing path to /ws.
func NormalizeWSURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %q", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid WebSocket URL scheme: %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
