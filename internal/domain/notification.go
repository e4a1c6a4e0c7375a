package domain

import "time"

type NotificationType string

const (
	NotificationDeviceRegistered     NotificationType = "DeviceRegistered"
	NotificationCredentialRevoked    NotificationType = "CredentialRevoked"
	NotificationOwnershipTransferred NotificationType = "OwnershipTransferred"
	NotificationPaused               NotificationType = "Paused"
	NotificationUnpaused             NotificationType = "Unpaused"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationDeviceRegistered,
		NotificationCredentialRevoked,
		NotificationOwnershipTransferred,
		NotificationPaused,
		NotificationUnpaused:
		return true
	default:
		return false
	}
}

// Notification is an immutable entry of the ledger's event log. Position is
// assigned at commit, starts at 1 and has no gaps.
type Notification struct {
	Position      uint64           `json:"position"`
	TxID          string           `json:"tx_id"`
	Type          NotificationType `json:"type"`
	DeviceID      DeviceID         `json:"device_id,omitempty"`
	Fingerprint   Hash             `json:"fingerprint"`
	Owner         Address          `json:"owner"`
	PreviousOwner Address          `json:"previous_owner"`
	BoundKey      Address          `json:"bound_key"`
	Emergency     bool             `json:"emergency,omitempty"`
	EmittedAt     time.Time        `json:"emitted_at"`
}

// NotificationFilter selects notifications by type and device over an
// inclusive position range. To == 0 means "up to the current position".
type NotificationFilter struct {
	Types    []NotificationType
	DeviceID *DeviceID
	From     uint64
	To       uint64
	// Limit caps how many matches a query returns. Zero is unbounded.
	// Match ignores it.
	Limit int
}

func (f NotificationFilter) Match(n Notification) bool {
	if f.From > 0 && n.Position < f.From {
		return false
	}
	if f.To > 0 && n.Position > f.To {
		return false
	}
	if f.DeviceID != nil && n.DeviceID != *f.DeviceID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == n.Type {
			return true
		}
	}
	return false
}
