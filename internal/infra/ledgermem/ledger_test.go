package ledgermem

import (
	"context"
	"errors"
	"testing"
	"time"

	"accesscontrol/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ownerA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	keyA   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

func register(t *testing.T, l *Ledger) domain.DeviceID {
	t.Helper()
	var id domain.DeviceID
	_, err := l.Execute(context.Background(), func(tx domain.LedgerTx) error {
		next, err := tx.NextDeviceID(context.Background())
		if err != nil {
			return err
		}
		id = next
		tx.Emit(domain.Notification{Type: domain.NotificationDeviceRegistered, DeviceID: next})
		return tx.PutDevice(context.Background(), domain.DeviceRecord{ID: next, Owner: ownerA, BoundKey: keyA, Exists: true})
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return id
}

func TestExecute_RollbackDiscardsWritesAndNotifications(t *testing.T) {
	l := New()
	ctx := context.Background()
	first := register(t, l)

	boom := errors.New("boom")
	_, err := l.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := tx.MarkRevoked(ctx, first, common.HexToHash("0x01")); err != nil {
			return err
		}
		if err := tx.SetPaused(ctx, true); err != nil {
			return err
		}
		if _, err := tx.NextDeviceID(ctx); err != nil {
			return err
		}
		tx.Emit(domain.Notification{Type: domain.NotificationPaused})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = l.View(ctx, func(r domain.LedgerReader) error {
		revoked, _ := r.IsRevoked(ctx, first, common.HexToHash("0x01"))
		if revoked {
			t.Fatal("rolled back revocation is visible")
		}
		paused, _ := r.Paused(ctx)
		if paused {
			t.Fatal("rolled back pause is visible")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if pos, _ := l.CurrentPosition(ctx); pos != 1 {
		t.Fatalf("expected position 1, got %d", pos)
	}

	// The sequence is not rolled back: the aborted id is skipped.
	second := register(t, l)
	if second != first+2 {
		t.Fatalf("expected id %d, got %d", first+2, second)
	}
}

func TestExecute_ReadsOwnWrites(t *testing.T) {
	l := New()
	ctx := context.Background()
	id := register(t, l)
	fp := common.HexToHash("0xaa")

	_, err := l.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := tx.MarkRevoked(ctx, id, fp); err != nil {
			return err
		}
		revoked, err := tx.IsRevoked(ctx, id, fp)
		if err != nil {
			return err
		}
		if !revoked {
			t.Fatal("staged revocation not visible inside the call")
		}
		total, _ := tx.TotalDevices(ctx)
		if total != 1 {
			t.Fatalf("expected 1 device, got %d", total)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func TestPutDevice_RejectsRebinding(t *testing.T) {
	l := New()
	ctx := context.Background()
	id := register(t, l)
	_, err := l.Execute(ctx, func(tx domain.LedgerTx) error {
		return tx.PutDevice(ctx, domain.DeviceRecord{ID: id, Owner: ownerA, BoundKey: common.HexToAddress("0x0c"), Exists: true})
	})
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestNotifications_PositionsAndTxIDs(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ids := []string{"tx-1", "tx-2"}
	next := 0
	l := NewWithOptions(Options{Clock: clock, NewTxID: func() string {
		id := ids[next]
		next++
		return id
	}})
	ctx := context.Background()

	out, err := l.Execute(ctx, func(tx domain.LedgerTx) error {
		tx.Emit(domain.Notification{Type: domain.NotificationCredentialRevoked, DeviceID: 1})
		tx.Emit(domain.Notification{Type: domain.NotificationCredentialRevoked, DeviceID: 2})
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(out) != 2 || out[0].Position != 1 || out[1].Position != 2 {
		t.Fatalf("unexpected positions: %+v", out)
	}
	if out[0].TxID != "tx-1" || out[1].TxID != "tx-1" {
		t.Fatalf("expected shared tx id, got %q %q", out[0].TxID, out[1].TxID)
	}
	if !out[0].EmittedAt.Equal(clock()) {
		t.Fatalf("unexpected emitted_at %v", out[0].EmittedAt)
	}

	if _, err := l.Execute(ctx, func(tx domain.LedgerTx) error {
		tx.Emit(domain.Notification{Type: domain.NotificationPaused})
		return nil
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	device := domain.DeviceID(2)
	got, err := l.Query(ctx, domain.NotificationFilter{
		Types:    []domain.NotificationType{domain.NotificationCredentialRevoked},
		DeviceID: &device,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].Position != 2 {
		t.Fatalf("unexpected filtered query result: %+v", got)
	}

	ranged, err := l.Query(ctx, domain.NotificationFilter{From: 2, To: 3})
	if err != nil {
		t.Fatalf("query range: %v", err)
	}
	if len(ranged) != 2 || ranged[0].Position != 2 || ranged[1].TxID != "tx-2" {
		t.Fatalf("unexpected range result: %+v", ranged)
	}

	limited, err := l.Query(ctx, domain.NotificationFilter{From: 2, Limit: 1})
	if err != nil {
		t.Fatalf("query limit: %v", err)
	}
	if len(limited) != 1 || limited[0].Position != 2 {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestSubscribe_DeliversInOrderAndClosesOnCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.Subscribe(ctx, domain.NotificationFilter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	register(t, l)
	register(t, l)

	for want := uint64(1); want <= 2; want++ {
		select {
		case n := <-ch:
			if n.Position != want {
				t.Fatalf("expected position %d, got %d", want, n.Position)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for position %d", want)
		}
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}

func TestSubscribe_SlowSubscriberIsDisconnected(t *testing.T) {
	l := NewWithOptions(Options{SubscriberBuffer: 1})
	ctx := context.Background()
	ch, err := l.Subscribe(ctx, domain.NotificationFilter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	register(t, l)
	register(t, l)

	n, ok := <-ch
	if !ok || n.Position != 1 {
		t.Fatalf("expected first notification, got %+v ok=%v", n, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected lagging subscriber to be closed")
	}
	if pos, _ := l.CurrentPosition(ctx); pos != 2 {
		t.Fatalf("ledger should keep committing, position %d", pos)
	}
}
