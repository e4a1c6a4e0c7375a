package db

import (
	"context"
	"errors"
	"time"

	"accesscontrol/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type pgReader struct {
	db *gorm.DB
}

func (r pgReader) GetDevice(ctx context.Context, id domain.DeviceID) (domain.DeviceRecord, error) {
	var model DeviceModel
	err := r.db.WithContext(ctx).Where("id = ?", int64(id)).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DeviceRecord{}, domain.ErrDeviceNotFound
		}
		return domain.DeviceRecord{}, err
	}
	return deviceFromModel(model), nil
}

func (r pgReader) IsRevoked(ctx context.Context, id domain.DeviceID, fingerprint domain.Hash) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&CredentialRevocationModel{}).
		Where("device_id = ? AND fingerprint = ?", int64(id), fingerprint.Bytes()).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r pgReader) TotalDevices(ctx context.Context) (uint64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&DeviceModel{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (r pgReader) Paused(ctx context.Context) (bool, error) {
	var state RegistryStateModel
	if err := r.db.WithContext(ctx).Where("id = ?", stateRowID).Take(&state).Error; err != nil {
		return false, err
	}
	return state.Paused, nil
}

// pgTx writes straight into the enclosing SQL transaction; rollback is the
// database's.
type pgTx struct {
	pgReader
	now     time.Time
	emitted []domain.Notification
}

// NextDeviceID draws from a sequence, which Postgres never rolls back, so
// ids are not reused after a failed call.
func (t *pgTx) NextDeviceID(ctx context.Context) (domain.DeviceID, error) {
	var id int64
	if err := t.db.WithContext(ctx).Raw(`SELECT nextval('device_id_seq')`).Scan(&id).Error; err != nil {
		return 0, err
	}
	return domain.DeviceID(id), nil
}

func (t *pgTx) PutDevice(ctx context.Context, rec domain.DeviceRecord) error {
	existing, err := t.GetDevice(ctx, rec.ID)
	switch {
	case err == nil:
		if existing.BoundKey != rec.BoundKey {
			return domain.ErrInvalidKey
		}
	case !errors.Is(err, domain.ErrDeviceNotFound):
		return err
	}
	model := DeviceModel{
		ID:           int64(rec.ID),
		Owner:        rec.Owner.Bytes(),
		BoundKey:     rec.BoundKey.Bytes(),
		RevokedCount: int64(rec.RevokedCount),
		CreatedAt:    t.now,
		UpdatedAt:    t.now,
	}
	return t.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner", "revoked_count", "updated_at"}),
		}).
		Create(&model).Error
}

func (t *pgTx) MarkRevoked(ctx context.Context, id domain.DeviceID, fingerprint domain.Hash) error {
	res := t.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&CredentialRevocationModel{
			DeviceID:    int64(id),
			Fingerprint: fingerprint.Bytes(),
			RevokedAt:   t.now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrAlreadyRevoked
	}
	return nil
}

func (t *pgTx) SetPaused(ctx context.Context, paused bool) error {
	return t.db.WithContext(ctx).
		Model(&RegistryStateModel{}).
		Where("id = ?", stateRowID).
		Updates(map[string]any{"paused": paused, "updated_at": t.now}).Error
}

func (t *pgTx) Emit(n domain.Notification) {
	t.emitted = append(t.emitted, n)
}
