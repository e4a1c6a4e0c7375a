package ledgermem

import (
	"context"

	"accesscontrol/internal/domain"
)

type committedView struct {
	l *Ledger
}

func (v committedView) GetDevice(ctx context.Context, id domain.DeviceID) (domain.DeviceRecord, error) {
	rec, ok := v.l.devices[id]
	if !ok {
		return domain.DeviceRecord{}, domain.ErrDeviceNotFound
	}
	return rec, nil
}

func (v committedView) IsRevoked(ctx context.Context, id domain.DeviceID, fingerprint domain.Hash) (bool, error) {
	_, ok := v.l.revoked[id][fingerprint]
	return ok, nil
}

func (v committedView) TotalDevices(ctx context.Context) (uint64, error) {
	return uint64(len(v.l.devices)), nil
}

func (v committedView) Paused(ctx context.Context) (bool, error) {
	return v.l.paused, nil
}

// stagedTx reads through its own writes to the committed state.
type stagedTx struct {
	l       *Ledger
	devices map[domain.DeviceID]domain.DeviceRecord
	revoked map[domain.DeviceID]map[domain.Hash]struct{}
	paused  *bool
	emitted []domain.Notification
}

func (t *stagedTx) GetDevice(ctx context.Context, id domain.DeviceID) (domain.DeviceRecord, error) {
	if rec, ok := t.devices[id]; ok {
		return rec, nil
	}
	return committedView{l: t.l}.GetDevice(ctx, id)
}

func (t *stagedTx) IsRevoked(ctx context.Context, id domain.DeviceID, fingerprint domain.Hash) (bool, error) {
	if _, ok := t.revoked[id][fingerprint]; ok {
		return true, nil
	}
	return committedView{l: t.l}.IsRevoked(ctx, id, fingerprint)
}

func (t *stagedTx) TotalDevices(ctx context.Context) (uint64, error) {
	total := uint64(len(t.l.devices))
	for id := range t.devices {
		if _, ok := t.l.devices[id]; !ok {
			total++
		}
	}
	return total, nil
}

func (t *stagedTx) Paused(ctx context.Context) (bool, error) {
	if t.paused != nil {
		return *t.paused, nil
	}
	return t.l.paused, nil
}

func (t *stagedTx) NextDeviceID(ctx context.Context) (domain.DeviceID, error) {
	t.l.seq++
	return domain.DeviceID(t.l.seq), nil
}

func (t *stagedTx) PutDevice(ctx context.Context, rec domain.DeviceRecord) error {
	if existing, err := t.GetDevice(ctx, rec.ID); err == nil && existing.BoundKey != rec.BoundKey {
		return domain.ErrInvalidKey
	}
	t.devices[rec.ID] = rec
	return nil
}

func (t *stagedTx) MarkRevoked(ctx context.Context, id domain.DeviceID, fingerprint domain.Hash) error {
	set := t.revoked[id]
	if set == nil {
		set = make(map[domain.Hash]struct{})
		t.revoked[id] = set
	}
	set[fingerprint] = struct{}{}
	return nil
}

func (t *stagedTx) SetPaused(ctx context.Context, paused bool) error {
	t.paused = &paused
	return nil
}

func (t *stagedTx) Emit(n domain.Notification) {
	t.emitted = append(t.emitted, n)
}
