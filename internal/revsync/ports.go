package revsync

import (
	"context"

	"accesscontrol/internal/domain"
)

// Source is the registry's event log as seen by the cache.
type Source interface {
	Query(ctx context.Context, filter domain.NotificationFilter) ([]domain.Notification, error)
	CurrentPosition(ctx context.Context) (uint64, error)
	Subscribe(ctx context.Context, filter domain.NotificationFilter) (<-chan domain.Notification, error)
}

// Snapshot is the durable form of the cache. DeviceID is the filter the
// mirror was built with; nil means every device.
type Snapshot struct {
	DeviceID       *domain.DeviceID                  `json:"device_id,omitempty"`
	Mirror         map[domain.DeviceID][]domain.Hash `json:"mirror"`
	LastCheckpoint uint64                            `json:"last_checkpoint"`
}

// covers reports whether a mirror built with the snapshot's filter holds
// every revocation a cache filtered on id needs.
func (s Snapshot) covers(id *domain.DeviceID) bool {
	if s.DeviceID == nil {
		return true
	}
	return id != nil && *id == *s.DeviceID
}

// Persister loads and saves snapshots. Load reports ok=false when nothing
// has been saved yet.
type Persister interface {
	Load(ctx context.Context) (snap Snapshot, ok bool, err error)
	Save(ctx context.Context, snap Snapshot) error
}
