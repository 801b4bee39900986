// Package monitor implements the heartbeat protocol that detects and
// evicts unresponsive connections.
//
// Each round every registered connection either proved itself alive since
// the previous round (a pong flipped its flag back) or it is force-closed.
// The close tears down the transport, and the gateway's close handler is
// the single place that removes the entry, so a monitor-forced close and a
// peer-initiated close follow the exact same path. A silently dead
// connection is purged within two periods.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/danyal-tariq/MeetUpSync/internal/relay/registry"
	"github.com/danyal-tariq/MeetUpSync/pkg/metrics"

	"go.uber.org/zap"
)

// Monitor periodically probes every registered connection.
type Monitor struct {
	logger   *zap.Logger
	store    registry.Store
	metrics  *metrics.Metrics
	interval time.Duration
}

// New creates a monitor. metrics may be nil; interval zero selects 30s.
func New(logger *zap.Logger, store registry.Store, m *metrics.Metrics, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		logger:   logger.Named("monitor"),
		store:    store,
		metrics:  m,
		interval: interval,
	}
}

// Interval returns the probe period.
func (m *Monitor) Interval() time.Duration { return m.interval }

// Run probes on a fixed period until ctx is cancelled. Call in its own
// goroutine.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one probe round: evict connections that missed the
// previous round, then mark the rest unproven and ping them.
func (m *Monitor) Sweep(ctx context.Context) {
	conns, err := m.store.List(ctx)
	if err != nil {
		m.logger.Error("failed to list connections", zap.Error(err))
		return
	}

	for _, conn := range conns {
		if !conn.Alive() {
			m.logger.Info("evicting unresponsive connection",
				zap.String("id", conn.Meta().ID))
			if m.metrics != nil {
				m.metrics.Evicted()
			}
			// Force-close only; the gateway close handler owns removal.
			if err := conn.Close(ctx); err != nil {
				m.logger.Error("failed to close connection",
					zap.String("id", conn.Meta().ID),
					zap.Error(err))
			}
			continue
		}

		conn.SetAlive(false)
		err := conn.Send(ctx, &registry.Message{Event: registry.EventPing})
		if errors.Is(err, registry.ErrClosed) {
			// Closed normally mid-round; its entry is on the way out.
			continue
		}
		if err != nil {
			m.logger.Debug("failed to queue ping",
				zap.String("id", conn.Meta().ID),
				zap.Error(err))
		}
	}
}
