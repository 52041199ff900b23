package status

import (
	"context"
	"time"

	"github.com/kazz187/taskvault/internal/supervisor"
	"github.com/kazz187/taskvault/internal/vault"
	"github.com/kazz187/taskvault/pkg/cerr"
)

// WatcherSource provides the latest supervisor table. *supervisor.Supervisor
// satisfies it.
type WatcherSource interface {
	Snapshot() *supervisor.Snapshot
}

type PartitionCount struct {
	Partition vault.Partition `json:"partition"`
	Count     int             `json:"count"`
}

// Snapshot is a point-in-time projection of the vault and the watchers.
type Snapshot struct {
	TakenAt         time.Time                  `json:"taken_at"`
	Partitions      []PartitionCount           `json:"partitions"`
	Watchers        []supervisor.WatcherStatus `json:"watchers"`
	WatchersRunning int                        `json:"watchers_running"`
	LastActivity    time.Time                  `json:"last_activity,omitzero"`
}

func (s *Snapshot) Count(p vault.Partition) int {
	for _, c := range s.Partitions {
		if c.Partition == p {
			return c.Count
		}
	}
	return 0
}

// Degraded reports whether any watcher is not running.
func (s *Snapshot) Degraded() bool {
	return s.WatchersRunning < len(s.Watchers)
}

// Collect counts every partition and records the newest item modification
// time. Items that vanish while being counted are skipped.
func Collect(ctx context.Context, v *vault.Vault, watchers WatcherSource, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: now}
	for _, p := range vault.All {
		n := 0
		for ref, err := range v.List(ctx, p, "") {
			if err != nil {
				return nil, err
			}
			n++
			fi, err := v.Stat(ref)
			if err != nil {
				if cerr.IsCode(err, cerr.NotFound) {
					continue
				}
				return nil, err
			}
			if fi.ModTime().After(snap.LastActivity) {
				snap.LastActivity = fi.ModTime()
			}
		}
		snap.Partitions = append(snap.Partitions, PartitionCount{Partition: p, Count: n})
	}
	if watchers != nil {
		if ws := watchers.Snapshot(); ws != nil {
			snap.Watchers = ws.Watchers
			for _, w := range ws.Watchers {
				if w.State == supervisor.Running {
					snap.WatchersRunning++
				}
			}
		}
	}
	return snap, nil
}
