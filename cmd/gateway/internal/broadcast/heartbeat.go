package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Algo360-by-Odav/Algo360FX-sub014/cmd/gateway/internal/protocol"
)

type BeatStats struct {
	Alive  int
	Reaped int
}

// Monitor sends a liveness frame to every open session and closes the ones
// that stopped answering or whose transport already failed.
type Monitor struct {
	logger    *zap.Logger
	interval  time.Duration
	maxMissed int
	peers     PeerLister
}

func NewMonitor(logger *zap.Logger, interval time.Duration, maxMissed int, peers PeerLister) *Monitor {
	if maxMissed < 1 {
		maxMissed = 1
	}
	return &Monitor{
		logger:    logger,
		interval:  interval,
		maxMissed: maxMissed,
		peers:     peers,
	}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("Heartbeat monitor started", zap.Duration("interval", m.interval), zap.Int("max_missed", m.maxMissed))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Heartbeat monitor stopped")
			return
		case now := <-ticker.C:
			m.Beat(now)
		}
	}
}

// Beat performs one heartbeat round at now.
func (m *Monitor) Beat(now time.Time) BeatStats {
	var stats BeatStats
	staleAfter := m.interval * time.Duration(m.maxMissed)

	frame, err := json.Marshal(protocol.Frame{
		Type: protocol.TypeHeartbeat,
		Data: protocol.HeartbeatData{Timestamp: now.UnixMilli()},
	})
	if err != nil {
		m.logger.Error("JSON Marshal Error", zap.Error(err))
		return stats
	}

	for _, p := range m.peers.Peers() {
		if idle := now.Sub(p.LastSeen()); idle > staleAfter {
			m.logger.Info("Reaping stale session", zap.String("session", p.ID()), zap.Duration("idle", idle))
			p.Close()
			stats.Reaped++
			continue
		}

		if err := p.Send(frame); err != nil {
			m.reap(p, err)
			stats.Reaped++
			continue
		}
		if err := p.Ping(); err != nil {
			m.reap(p, err)
			stats.Reaped++
			continue
		}
		stats.Alive++
	}

	if stats.Reaped > 0 {
		m.logger.Info("Heartbeat", zap.Int("alive", stats.Alive), zap.Int("reaped", stats.Reaped))
	}
	return stats
}

func (m *Monitor) reap(p Peer, err error) {
	m.logger.Info("Reaping dead session", zap.String("session", p.ID()), zap.Error(err))
	p.Close()
}
