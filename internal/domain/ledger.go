package domain

import "context"

// LedgerReader is the read surface of the registry state.
type LedgerReader interface {
	// GetDevice returns ErrDeviceNotFound for unknown ids.
	GetDevice(ctx context.Context, id DeviceID) (DeviceRecord, error)
	IsRevoked(ctx context.Context, id DeviceID, fingerprint Hash) (bool, error)
	TotalDevices(ctx context.Context) (uint64, error)
	Paused(ctx context.Context) (bool, error)
}

// LedgerTx stages writes for one atomic call. Nothing it records is visible
// to other callers until the enclosing Execute returns without error.
type LedgerTx interface {
	LedgerReader
	// NextDeviceID draws from a sequence that is not rolled back, so an id is
	// never handed out twice.
	NextDeviceID(ctx context.Context) (DeviceID, error)
	PutDevice(ctx context.Context, rec DeviceRecord) error
	MarkRevoked(ctx context.Context, id DeviceID, fingerprint Hash) error
	SetPaused(ctx context.Context, paused bool) error
	// Emit queues a notification. Position, TxID and EmittedAt are assigned
	// at commit.
	Emit(n Notification)
}

// Ledger executes registry calls one at a time, each either fully applied
// with its notifications appended, or not applied at all.
type Ledger interface {
	Execute(ctx context.Context, fn func(tx LedgerTx) error) ([]Notification, error)
	View(ctx context.Context, fn func(r LedgerReader) error) error
}

// EventLog exposes the ordered notification history.
type EventLog interface {
	Query(ctx context.Context, filter NotificationFilter) ([]Notification, error)
	CurrentPosition(ctx context.Context) (uint64, error)
	// Subscribe delivers notifications committed after the call that match
	// filter. The channel is closed when ctx ends or the subscriber falls
	// too far behind.
	Subscribe(ctx context.Context, filter NotificationFilter) (<-chan Notification, error)
}
