package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter set.
var Stats = &stats{}

type stats struct {
	SessionsOpened atomic.Int64 // cumulative sessions created since process start
	SessionsClosed atomic.Int64 // cumulative sessions torn down since process start
	EnvelopesRecv  atomic.Int64 // envelopes read from signaling channels
	EnvelopesSent  atomic.Int64 // envelopes written to signaling channels
	Violations     atomic.Int64 // malformed or out-of-phase envelopes dropped
}

func (s *stats) OpenSession()  { s.SessionsOpened.Add(1) }
func (s *stats) CloseSession() { s.SessionsClosed.Add(1) }
func (s *stats) AddRecv()      { s.EnvelopesRecv.Add(1) }
func (s *stats) AddSent()      { s.EnvelopesSent.Add(1) }
func (s *stats) AddViolation() { s.Violations.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	opened, closed, recv, sent, violations int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		opened:     s.SessionsOpened.Load(),
		closed:     s.SessionsClosed.Load(),
		recv:       s.EnvelopesRecv.Load(),
		sent:       s.EnvelopesSent.Load(),
		violations: s.Violations.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics every
// interval while anything changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(prev, cur))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns the delta between two snapshots for display in the logger.
func formatStats(prev, cur snapshot) string {
	return fmt.Sprintf("Sessions: %3d live %2d↑ %2d↓ | Envelopes: %4d in %4d out | Dropped: %d",
		cur.opened-cur.closed,
		cur.opened-prev.opened,
		cur.closed-prev.closed,
		cur.recv-prev.recv,
		cur.sent-prev.sent,
		cur.violations-prev.violations,
	)
}
