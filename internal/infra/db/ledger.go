package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"accesscontrol/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	notifyChannel           = "registry_notifications"
	defaultSubscriberBuffer = 256
)

// Ledger keeps registry state in Postgres. Each Execute is one SQL
// transaction that first locks the registry_state row, so calls are applied
// one at a time and notification positions stay gapless.
type Ledger struct {
	db        *gorm.DB
	dsn       string
	clock     func() time.Time
	newTxID   func() string
	subBuffer int
}

func NewLedger(store *Store) *Ledger {
	l := &Ledger{
		clock:     time.Now,
		newTxID:   uuid.NewString,
		subBuffer: defaultSubscriberBuffer,
	}
	if store != nil {
		l.db = store.DB
		l.dsn = store.DSN
	}
	return l
}

func (l *Ledger) Execute(ctx context.Context, fn func(tx domain.LedgerTx) error) ([]domain.Notification, error) {
	if l.db == nil {
		return nil, errDBUnavailable
	}
	var out []domain.Notification
	err := l.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		var state RegistryStateModel
		if err := gtx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", stateRowID).
			Take(&state).Error; err != nil {
			return fmt.Errorf("lock registry state: %w", err)
		}

		t := &pgTx{
			pgReader: pgReader{db: gtx},
			now:      l.clock().UTC().Truncate(time.Microsecond),
		}
		if err := fn(t); err != nil {
			return err
		}
		if len(t.emitted) == 0 {
			return nil
		}

		var last int64
		if err := gtx.Raw(`SELECT COALESCE(MAX(position), 0) FROM notifications`).Scan(&last).Error; err != nil {
			return err
		}
		txID := l.newTxID()
		notes := make([]domain.Notification, 0, len(t.emitted))
		models := make([]NotificationModel, 0, len(t.emitted))
		for i, n := range t.emitted {
			n.Position = uint64(last) + uint64(i) + 1
			n.TxID = txID
			n.EmittedAt = t.now
			notes = append(notes, n)
			models = append(models, notificationModelFromDomain(n))
		}
		if err := gtx.Create(&models).Error; err != nil {
			return fmt.Errorf("append notifications: %w", err)
		}
		// Delivered to listeners only when the transaction commits.
		head := strconv.FormatUint(notes[len(notes)-1].Position, 10)
		if err := gtx.Exec(`SELECT pg_notify(?, ?)`, notifyChannel, head).Error; err != nil {
			return err
		}
		out = notes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) View(ctx context.Context, fn func(r domain.LedgerReader) error) error {
	if l.db == nil {
		return errDBUnavailable
	}
	return fn(pgReader{db: l.db.WithContext(ctx)})
}

func (l *Ledger) Query(ctx context.Context, filter domain.NotificationFilter) ([]domain.Notification, error) {
	if l.db == nil {
		return nil, errDBUnavailable
	}
	q := l.db.WithContext(ctx).Model(&NotificationModel{}).Order("position ASC")
	if filter.From > 0 {
		q = q.Where("position >= ?", int64(filter.From))
	}
	if filter.To > 0 {
		q = q.Where("position <= ?", int64(filter.To))
	}
	if filter.DeviceID != nil {
		q = q.Where("device_id = ?", int64(*filter.DeviceID))
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		q = q.Where("type IN ?", types)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var models []NotificationModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		out = append(out, notificationFromModel(m))
	}
	return out, nil
}

func (l *Ledger) CurrentPosition(ctx context.Context) (uint64, error) {
	if l.db == nil {
		return 0, errDBUnavailable
	}
	var pos int64
	if err := l.db.WithContext(ctx).
		Raw(`SELECT COALESCE(MAX(position), 0) FROM notifications`).
		Scan(&pos).Error; err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.EventLog = (*Ledger)(nil)
)
