package ledgermem

import (
	"context"
	"sync"
	"time"

	"accesscontrol/internal/domain"

	"github.com/google/uuid"
)

const defaultSubscriberBuffer = 256

// Ledger is a single-process ledger. Calls run one at a time under a write
// lock against a staged overlay that is merged only on success.
type Ledger struct {
	mu      sync.RWMutex
	devices map[domain.DeviceID]domain.DeviceRecord
	revoked map[domain.DeviceID]map[domain.Hash]struct{}
	paused  bool
	seq     uint64
	log     []domain.Notification

	subs    map[uint64]*subscriber
	nextSub uint64

	clock     func() time.Time
	newTxID   func() string
	subBuffer int
}

type subscriber struct {
	filter domain.NotificationFilter
	ch     chan domain.Notification
}

type Options struct {
	Clock   func() time.Time
	NewTxID func() string
	// SubscriberBuffer bounds how far a subscriber may lag before it is
	// disconnected.
	SubscriberBuffer int
}

func New() *Ledger {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Ledger {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewTxID == nil {
		opts.NewTxID = uuid.NewString
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	return &Ledger{
		devices:   make(map[domain.DeviceID]domain.DeviceRecord),
		revoked:   make(map[domain.DeviceID]map[domain.Hash]struct{}),
		subs:      make(map[uint64]*subscriber),
		clock:     opts.Clock,
		newTxID:   opts.NewTxID,
		subBuffer: opts.SubscriberBuffer,
	}
}

func (l *Ledger) Execute(ctx context.Context, fn func(tx domain.LedgerTx) error) ([]domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &stagedTx{
		l:       l,
		devices: make(map[domain.DeviceID]domain.DeviceRecord),
		revoked: make(map[domain.DeviceID]map[domain.Hash]struct{}),
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	return l.commit(t), nil
}

func (l *Ledger) View(ctx context.Context, fn func(r domain.LedgerReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(committedView{l: l})
}

func (l *Ledger) commit(t *stagedTx) []domain.Notification {
	for id, rec := range t.devices {
		l.devices[id] = rec
	}
	for id, set := range t.revoked {
		base := l.revoked[id]
		if base == nil {
			base = make(map[domain.Hash]struct{}, len(set))
			l.revoked[id] = base
		}
		for fp := range set {
			base[fp] = struct{}{}
		}
	}
	if t.paused != nil {
		l.paused = *t.paused
	}
	if len(t.emitted) == 0 {
		return nil
	}

	txID := l.newTxID()
	now := l.clock().UTC()
	out := make([]domain.Notification, 0, len(t.emitted))
	for _, n := range t.emitted {
		n.Position = uint64(len(l.log)) + 1
		n.TxID = txID
		n.EmittedAt = now
		l.log = append(l.log, n)
		out = append(out, n)
		l.publish(n)
	}
	return out
}

// publish must run with mu held for writing.
func (l *Ledger) publish(n domain.Notification) {
	for id, sub := range l.subs {
		if !sub.filter.Match(n) {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			delete(l.subs, id)
			close(sub.ch)
		}
	}
}

func (l *Ledger) Query(ctx context.Context, filter domain.NotificationFilter) ([]domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := uint64(0)
	if filter.From > 1 {
		start = filter.From - 1
	}
	end := uint64(len(l.log))
	if filter.To > 0 && filter.To < end {
		end = filter.To
	}
	out := []domain.Notification{}
	for i := start; i < end; i++ {
		if !filter.Match(l.log[i]) {
			continue
		}
		out = append(out, l.log[i])
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (l *Ledger) CurrentPosition(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.log)), nil
}

func (l *Ledger) Subscribe(ctx context.Context, filter domain.NotificationFilter) (<-chan domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscriber{
		filter: domain.NotificationFilter{Types: filter.Types, DeviceID: filter.DeviceID},
		ch:     make(chan domain.Notification, l.subBuffer),
	}
	l.mu.Lock()
	l.nextSub++
	id := l.nextSub
	l.subs[id] = sub
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		if current, ok := l.subs[id]; ok && current == sub {
			delete(l.subs, id)
			close(sub.ch)
		}
	}()
	return sub.ch, nil
}

var (
	_ domain.Ledger   = (*Ledger)(nil)
	_ domain.EventLog = (*Ledger)(nil)
)
