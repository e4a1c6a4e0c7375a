//go:build integration
// +build integration

package db

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"accesscontrol/internal/config"
	"accesscontrol/internal/domain"
	cryptoinfra "accesscontrol/internal/infra/crypto"
	"accesscontrol/internal/usecase"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"gorm.io/gorm"
)

var (
	testRoot  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testOwner = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN_TEST"))
	if dsn == "" {
		t.Skip("POSTGRES_DSN_TEST not set")
	}
	store, err := NewStore(config.Config{PostgresDSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	lockTestDB(t, store.DB)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	resetDB(t, store.DB)
	return store
}

func lockTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		t.Fatalf("open db conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_lock(424242)"); err != nil {
		_ = conn.Close()
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock(424242)")
		_ = conn.Close()
	})
}

func resetDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	stmts := []string{
		`TRUNCATE credential_revocations, devices, notifications`,
		`ALTER SEQUENCE device_id_seq RESTART WITH 1`,
		`UPDATE registry_state SET paused = FALSE`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("reset db: %v", err)
		}
	}
}

func TestLedger_RegistryRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ledger := NewLedger(store)
	signer := &cryptoinfra.Service{}
	registry := usecase.NewRegistry(ledger, signer, testRoot)
	ctx := context.Background()

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := registry.Register(ctx, usecase.RegisterRequest{Caller: testOwner, BoundKey: cryptoinfra.AddressFromKey(key)})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected device 1, got %d", id)
	}

	fp := ethcrypto.Keccak256Hash([]byte("credential"))
	sig, err := signer.Sign(fp.Bytes(), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := registry.Revoke(ctx, usecase.RevokeRequest{Caller: testOwner, DeviceID: id, Fingerprint: fp, Signature: sig}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	err = registry.Revoke(ctx, usecase.RevokeRequest{Caller: testOwner, DeviceID: id, Fingerprint: fp, Signature: sig})
	if !errors.Is(err, domain.ErrAlreadyRevoked) {
		t.Fatalf("expected ErrAlreadyRevoked, got %v", err)
	}

	revoked, err := registry.IsRevoked(ctx, id, fp)
	if err != nil || !revoked {
		t.Fatalf("expected revoked, got %v (%v)", revoked, err)
	}
	count, err := registry.GetRevokedCount(ctx, id)
	if err != nil || count != 1 {
		t.Fatalf("expected count 1, got %d (%v)", count, err)
	}

	notes, err := ledger.Query(ctx, domain.NotificationFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notes))
	}
	if notes[0].Position != 1 || notes[1].Position != 2 {
		t.Fatalf("positions not gapless: %d,%d", notes[0].Position, notes[1].Position)
	}
	if notes[1].Type != domain.NotificationCredentialRevoked || notes[1].Fingerprint != fp || notes[1].Owner != testOwner {
		t.Fatalf("unexpected revocation notification: %+v", notes[1])
	}
	if !domain.IsZeroAddress(notes[1].PreviousOwner) {
		t.Fatal("expected empty previous owner")
	}

	page, err := ledger.Query(ctx, domain.NotificationFilter{From: 1, Limit: 1})
	if err != nil {
		t.Fatalf("query page: %v", err)
	}
	if len(page) != 1 || page[0].Position != 1 {
		t.Fatalf("expected a single row at position 1, got %+v", page)
	}
}

func TestLedger_RollbackOnError(t *testing.T) {
	store := setupTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		id, err := tx.NextDeviceID(ctx)
		if err != nil {
			return err
		}
		if err := tx.PutDevice(ctx, domain.DeviceRecord{ID: id, Owner: testOwner, BoundKey: testRoot, Exists: true}); err != nil {
			return err
		}
		tx.Emit(domain.Notification{Type: domain.NotificationDeviceRegistered, DeviceID: id})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var total uint64
	if err := ledger.View(ctx, func(r domain.LedgerReader) error {
		var err error
		total, err = r.TotalDevices(ctx)
		return err
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
	if total != 0 {
		t.Fatalf("device survived rollback: total=%d", total)
	}
	pos, err := ledger.CurrentPosition(ctx)
	if err != nil || pos != 0 {
		t.Fatalf("expected position 0, got %d (%v)", pos, err)
	}
}

func TestLedger_RejectsRebinding(t *testing.T) {
	store := setupTestStore(t)
	ledger := NewLedger(store)
	ctx := context.Background()

	_, err := ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		return tx.PutDevice(ctx, domain.DeviceRecord{ID: 7, Owner: testOwner, BoundKey: testRoot, Exists: true})
	})
	if err != nil {
		t.Fatalf("put device: %v", err)
	}
	_, err = ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		return tx.PutDevice(ctx, domain.DeviceRecord{ID: 7, Owner: testOwner, BoundKey: testOwner, Exists: true})
	})
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestLedger_SubscribeDeliversCommitted(t *testing.T) {
	store := setupTestStore(t)
	ledger := NewLedger(store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := ledger.Subscribe(ctx, domain.NotificationFilter{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_, err = ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := tx.SetPaused(ctx, true); err != nil {
			return err
		}
		tx.Emit(domain.Notification{Type: domain.NotificationPaused, Owner: testRoot})
		return nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	select {
	case n, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed")
		}
		if n.Position != 1 || n.Type != domain.NotificationPaused || n.Owner != testRoot {
			t.Fatalf("unexpected notification: %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}
