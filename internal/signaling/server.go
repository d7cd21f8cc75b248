package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/1ureka/echortc/internal/session"
	"github.com/1ureka/echortc/internal/transport"
	"github.com/1ureka/echortc/internal/util"
)

// PeerFactory creates the engine side of a new server session.
type PeerFactory func(id string) (Peer, error)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Path is the signaling endpoint, e.g. /ws.
	Path string

	Channel    transport.Options
	PeerErrors bool
}

// Server is the WebSocket signaling server. Every accepted connection gets a
// fresh session; sessions are serviced independently.
type Server struct {
	opts     ServerOptions
	newPeer  PeerFactory
	registry *session.Registry

	httpServer *http.Server

	mu     sync.Mutex // orders wg.Add against Shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server that builds one peer per connection with newPeer.
func NewServer(newPeer PeerFactory, opts ServerOptions) *Server {
	if opts.Path == "" {
		opts.Path = "/ws"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:     opts,
		newPeer:  newPeer,
		registry: session.NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.Path, s.handleWS)
	s.httpServer = &http.Server{Handler: mux}

	return s
}

// Handler returns the HTTP handler serving the signaling endpoint.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Registry returns the live sessions.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Listen binds addr and starts serving in the background. Returns the bound
// address, which is useful with port 0.
func (s *Server) Listen(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("WS server stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// Shutdown stops accepting connections, closes every live session and waits
// for their handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	errs := []error{s.httpServer.Shutdown(ctx), s.registry.CloseAll()}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("sessions still running: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	ch, err := transport.Upgrade(w, r, s.opts.Channel)
	if err != nil {
		util.LogWarning("%v", err)
		return
	}

	id := uuid.NewString()
	log := util.ConnLogger(id)
	log.Info("connection from %s", ch.RemoteAddr())

	p, err := s.newPeer(id)
	if err != nil {
		log.Error("failed to create peer: %v", err)
		_ = ch.Close()
		return
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		_ = p.Close()
		_ = ch.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if err := Respond(s.ctx, id, ch, p, s.registry, s.opts.PeerErrors); err != nil && !errors.Is(err, context.Canceled) {
		log.Warning("%v", err)
	}
}
