package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/echortc/internal/protocol"
)

// startServer starts an httptest server whose handler receives each accepted
// Channel. The returned URL uses the ws scheme.
func startServer(t *testing.T, opts Options, handle func(*Channel)) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch, err := Upgrade(w, r, opts)
		if err != nil {
			return
		}
		handle(ch)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, opts Options) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := Dial(ctx, url, opts)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = ch.Close() })
	return ch
}

func nextEnvelope(t *testing.T, ch *Channel) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := ch.Next(ctx)
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	return env
}

// TestChannelRoundTripPreservesOrder verifies in-order delivery in both
// directions.
func TestChannelRoundTripPreservesOrder(t *testing.T) {
	url := startServer(t, Options{}, func(ch *Channel) {
		defer ch.Close()
		for {
			data, err := ch.Next(context.Background())
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				return
			}
			// Reply with an answer carrying the offer SDP.
			if err := ch.Send(protocol.NewAnswer(env.Offer)); err != nil {
				return
			}
		}
	})

	client := dial(t, url, Options{})

	const n = 20
	for i := 0; i < n; i++ {
		if err := client.Send(protocol.NewOffer(fmt.Sprintf("v=0 #%d", i))); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	for i := 0; i < n; i++ {
		env := nextEnvelope(t, client)
		if want := fmt.Sprintf("v=0 #%d", i); env.Type != protocol.KindAnswer || env.Answer != want {
			t.Fatalf("frame %d = %+v, want answer %q", i, env, want)
		}
	}
}

// TestChannelConcurrentSendsDoNotInterleave hammers Send from many goroutines
// and checks that every frame arrives intact.
func TestChannelConcurrentSendsDoNotInterleave(t *testing.T) {
	const writers = 16
	const perWriter = 25

	received := make(chan protocol.Envelope, writers*perWriter)
	url := startServer(t, Options{}, func(ch *Channel) {
		defer ch.Close()
		for {
			data, err := ch.Next(context.Background())
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil {
				t.Errorf("server received corrupted frame %q: %v", data, err)
				return
			}
			received <- env
		}
	})

	client := dial(t, url, Options{WriteTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				c := protocol.Candidate{Candidate: fmt.Sprintf("candidate:%d-%d %s", w, i, strings.Repeat("x", 512))}
				if err := client.Send(protocol.NewCandidate(c)); err != nil {
					t.Errorf("Send failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	timeout := time.After(5 * time.Second)
	for i := 0; i < writers*perWriter; i++ {
		select {
		case env := <-received:
			if env.Type != protocol.KindICE {
				t.Fatalf("unexpected envelope %+v", env)
			}
		case <-timeout:
			t.Fatalf("received %d of %d frames", i, writers*perWriter)
		}
	}
}

// TestChannelCloseUnblocksNext verifies that a pending Next returns promptly
// once the channel is closed, on both ends.
func TestChannelCloseUnblocksNext(t *testing.T) {
	serverErr := make(chan error, 1)
	url := startServer(t, Options{}, func(ch *Channel) {
		_, err := ch.Next(context.Background())
		serverErr <- err
	})

	client := dial(t, url, Options{})

	clientErr := make(chan error, 1)
	go func() {
		_, err := client.Next(context.Background())
		clientErr <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_ = client.Close()

	select {
	case err := <-clientErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("client Next error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client Next did not return after Close")
	}

	select {
	case err := <-serverErr:
		if !IsNormalClose(err) {
			t.Errorf("server Next error = %v, want a normal close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server Next did not return after peer Close")
	}

	if err := client.Send(protocol.NewOffer("v=0")); err == nil {
		t.Error("Send after Close succeeded")
	}
}

// TestChannelNextHonoursContext verifies that Next returns on cancellation.
func TestChannelNextHonoursContext(t *testing.T) {
	url := startServer(t, Options{}, func(ch *Channel) {
		<-ch.Done()
	})
	client := dial(t, url, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next error = %v, want DeadlineExceeded", err)
	}
}

// TestChannelRateLimit verifies that a peer flooding the channel is
// disconnected with a policy-violation close code.
func TestChannelRateLimit(t *testing.T) {
	serverErr := make(chan error, 1)
	url := startServer(t, Options{MessagesPerSecond: 5}, func(ch *Channel) {
		for {
			if _, err := ch.Next(context.Background()); err != nil {
				serverErr <- err
				return
			}
		}
	})
	client := dial(t, url, Options{})

	for i := 0; i < 50; i++ {
		if err := client.Send(protocol.NewOffer("v=0")); err != nil {
			break
		}
	}

	select {
	case err := <-serverErr:
		if !errors.Is(err, ErrRateLimited) {
			t.Fatalf("server error = %v, want ErrRateLimited", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server was not rate limited")
	}

	// The client either reads the policy-violation close frame or, if one of
	// its writes raced the close, a connection error.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Next(ctx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("client Next = %v, want the connection to be closed", err)
	} else if _, ok := err.(*websocket.CloseError); ok && !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("client saw close %v, want policy violation", err)
	}
}

// TestChannelReadLimit verifies that oversized frames terminate the channel.
func TestChannelReadLimit(t *testing.T) {
	serverErr := make(chan error, 1)
	url := startServer(t, Options{MaxMessageBytes: 128}, func(ch *Channel) {
		_, err := ch.Next(context.Background())
		serverErr <- err
	})
	client := dial(t, url, Options{})

	_ = client.Send(protocol.NewOffer(strings.Repeat("a", 1024)))

	select {
	case err := <-serverErr:
		if err == nil {
			t.Fatal("oversized frame was delivered")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not reject the oversized frame")
	}
}

// TestPingInterval verifies the keepalive interval never drops to zero.
func TestPingInterval(t *testing.T) {
	testCases := []struct {
		pong, want time.Duration
	}{
		{60 * time.Second, 54 * time.Second},
		{time.Second, 900 * time.Millisecond},
		{time.Nanosecond, minPingInterval},
		{5 * time.Millisecond, minPingInterval},
	}
	for _, tc := range testCases {
		if got := pingInterval(tc.pong); got != tc.want {
			t.Errorf("pingInterval(%s) = %s, want %s", tc.pong, got, tc.want)
		}
	}
}

// TestChannelTinyPongTimeout verifies a nanosecond pong timeout shuts the
// channel down instead of crashing the keepalive.
func TestChannelTinyPongTimeout(t *testing.T) {
	url := startServer(t, Options{}, func(ch *Channel) {
		<-ch.Done()
	})
	client := dial(t, url, Options{PongTimeout: time.Nanosecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Next(ctx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Next = %v, want the channel to fail on the pong deadline", err)
	}
}
