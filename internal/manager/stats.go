package manager

import (
	"context"

	"github.com/google/uuid"

	"telegram-fleet/internal/domain/queue"
	"telegram-fleet/internal/worker"
)

// Stats is the manager's full operational snapshot: every tracked worker's
// stats plus a per-account queue roll-up.
type Stats struct {
	Workers []worker.Stats
	Queues  map[uuid.UUID]queue.Stats
}

// GetStats returns a point-in-time snapshot across every tracked worker
// plus a queue stats roll-up keyed by account.
func (m *Manager) GetStats(ctx context.Context) Stats {
	m.mu.Lock()
	snapshot := make([]*trackedWorker, 0, len(m.workers))
	for _, tw := range m.workers {
		snapshot = append(snapshot, tw)
	}
	m.mu.Unlock()

	out := Stats{
		Workers: make([]worker.Stats, 0, len(snapshot)),
		Queues:  make(map[uuid.UUID]queue.Stats, len(snapshot)),
	}
	for _, tw := range snapshot {
		out.Workers = append(out.Workers, tw.w.GetStats())
		if qs, err := m.p.Queue.Stats(ctx, tw.w.AccountID); err == nil {
			out.Queues[tw.w.AccountID] = qs
		}
	}
	return out
}
