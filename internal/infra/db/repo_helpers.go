package db

import (
	"errors"

	"accesscontrol/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

var errDBUnavailable = errors.New("db unavailable")

const stateRowID = 1

func addressBytes(a domain.Address) []byte {
	if domain.IsZeroAddress(a) {
		return nil
	}
	return copyBytes(a.Bytes())
}

func hashBytes(h domain.Hash) []byte {
	if domain.IsZeroHash(h) {
		return nil
	}
	return copyBytes(h.Bytes())
}

func toAddress(raw []byte) domain.Address {
	return common.BytesToAddress(raw)
}

func toHash(raw []byte) domain.Hash {
	return common.BytesToHash(raw)
}

func deviceFromModel(m DeviceModel) domain.DeviceRecord {
	return domain.DeviceRecord{
		ID:           domain.DeviceID(m.ID),
		Owner:        toAddress(m.Owner),
		BoundKey:     toAddress(m.BoundKey),
		RevokedCount: uint64(m.RevokedCount),
		Exists:       true,
	}
}

func notificationModelFromDomain(n domain.Notification) NotificationModel {
	model := NotificationModel{
		Position:      int64(n.Position),
		TxID:          n.TxID,
		Type:          string(n.Type),
		Fingerprint:   hashBytes(n.Fingerprint),
		Owner:         addressBytes(n.Owner),
		PreviousOwner: addressBytes(n.PreviousOwner),
		BoundKey:      addressBytes(n.BoundKey),
		Emergency:     n.Emergency,
		EmittedAt:     n.EmittedAt,
	}
	if n.DeviceID != 0 {
		id := int64(n.DeviceID)
		model.DeviceID = &id
	}
	return model
}

func notificationFromModel(m NotificationModel) domain.Notification {
	n := domain.Notification{
		Position:      uint64(m.Position),
		TxID:          m.TxID,
		Type:          domain.NotificationType(m.Type),
		Fingerprint:   toHash(m.Fingerprint),
		Owner:         toAddress(m.Owner),
		PreviousOwner: toAddress(m.PreviousOwner),
		BoundKey:      toAddress(m.BoundKey),
		Emergency:     m.Emergency,
		EmittedAt:     m.EmittedAt.UTC(),
	}
	if m.DeviceID != nil {
		n.DeviceID = domain.DeviceID(*m.DeviceID)
	}
	return n
}

func copyBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
