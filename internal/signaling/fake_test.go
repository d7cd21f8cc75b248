package signaling

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/echortc/internal/protocol"
	"github.com/1ureka/echortc/internal/session"
)

func strPtr(s string) *string { return &s }

func u16Ptr(v uint16) *uint16 { return &v }

// fakePeer is a scripted engine. It emits its local candidates synchronously
// from SetLocalDescription.
type fakePeer struct {
	id    string
	local []protocol.Candidate

	mu      sync.Mutex
	remote  []protocol.Description
	added   []protocol.Candidate
	echoed  []session.Track
	onLocal func(protocol.Candidate)
	onTrack func(session.Track)
	closes  int
	log     *closeLog

	mediaDone chan struct{}
	mediaOnce sync.Once
}

func newFakePeer(id string, local ...protocol.Candidate) *fakePeer {
	return &fakePeer{id: id, local: local, mediaDone: make(chan struct{})}
}

func (p *fakePeer) CreateOffer() (protocol.Description, error) {
	return protocol.Description{Type: protocol.SDPTypeOffer, SDP: "v=0 offer " + p.id}, nil
}

func (p *fakePeer) CreateAnswer() (protocol.Description, error) {
	return protocol.Description{Type: protocol.SDPTypeAnswer, SDP: "v=0 answer " + p.id}, nil
}

func (p *fakePeer) SetLocalDescription(protocol.Description) error {
	p.mu.Lock()
	fn := p.onLocal
	p.mu.Unlock()
	if fn != nil {
		for _, c := range p.local {
			fn(c)
		}
	}
	return nil
}

func (p *fakePeer) SetRemoteDescription(desc protocol.Description) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakePeer) AddICECandidate(c protocol.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, c)
	return nil
}

func (p *fakePeer) OnLocalCandidate(fn func(protocol.Candidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLocal = fn
}

func (p *fakePeer) OnRemoteTrack(fn func(session.Track)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) AttachEcho(t session.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.echoed = append(p.echoed, t)
	return nil
}

func (p *fakePeer) MediaDone() <-chan struct{} { return p.mediaDone }

func (p *fakePeer) endMedia() {
	p.mediaOnce.Do(func() { close(p.mediaDone) })
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closes++
	log := p.log
	p.mu.Unlock()
	if log != nil {
		log.add("peer")
	}
	p.endMedia()
	return nil
}

// deliverTrack simulates the engine reporting an incoming track.
func (p *fakePeer) deliverTrack(t session.Track) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (p *fakePeer) snapshot() (remote []protocol.Description, added []protocol.Candidate, echoed []session.Track, closes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Description(nil), p.remote...),
		append([]protocol.Candidate(nil), p.added...),
		append([]session.Track(nil), p.echoed...),
		p.closes
}

type fakeTrack struct{ id string }

func (t fakeTrack) ID() string    { return t.id }
func (t fakeTrack) Kind() string  { return "audio" }
func (t fakeTrack) Codec() string { return "audio/opus" }

// closeLog records the order in which resources are released.
type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(what string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, what)
}

func (l *closeLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// loggedChannel records its Close in a closeLog.
type loggedChannel struct {
	Channel
	log  *closeLog
	once sync.Once
}

func (c *loggedChannel) Close() error {
	c.once.Do(func() { c.log.add("channel") })
	return c.Channel.Close()
}

// testServer runs a Server over httptest and records every peer it creates.
type testServer struct {
	*Server
	url   string
	peers chan *fakePeer
}

func startTestServer(t *testing.T, peerErrors bool) *testServer {
	t.Helper()

	ts := &testServer{peers: make(chan *fakePeer, 16)}
	ts.Server = NewServer(func(id string) (Peer, error) {
		p := newFakePeer(id, protocol.Candidate{
			Candidate:     "candidate:server 1 udp 2130706431 10.0.0.2 5000 typ host",
			SDPMid:        strPtr("0"),
			SDPMLineIndex: u16Ptr(0),
		})
		ts.peers <- p
		return p, nil
	}, ServerOptions{Path: "/ws", PeerErrors: peerErrors})

	srv := httptest.NewServer(ts.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ts.Shutdown(ctx)
		srv.Close()
	})

	ts.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return ts
}

// nextPeer returns the peer created for the latest connection.
func (ts *testServer) nextPeer(t *testing.T) *fakePeer {
	t.Helper()
	select {
	case p := <-ts.peers:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("server did not create a peer")
		return nil
	}
}

// rawDial opens a plain gorilla connection for frame-level tests.
func rawDial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeRaw(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write %q: %v", frame, err)
	}
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	writeRaw(t, conn, string(data))
}

// readEnvelope reads one frame within timeout. ok is false on timeout.
func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) (env protocol.Envelope, raw string, ok bool) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Envelope{}, "", false
	}
	env, err = protocol.Decode(data)
	if err != nil {
		t.Fatalf("server sent invalid frame %q: %v", data, err)
	}
	return env, string(data), true
}

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}
