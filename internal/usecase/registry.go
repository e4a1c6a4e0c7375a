package usecase

import (
	"context"
	"errors"
	"fmt"

	"accesscontrol/internal/domain"
)

const (
	DefaultMaxRevoked   = 1000
	DefaultMaxBatchSize = 50
)

// Registry binds lock devices to their signing keys and tracks revoked
// credential fingerprints per device. Every mutating call runs inside one
// Ledger.Execute, so a failed call leaves no state or notification behind.
type Registry struct {
	Ledger       domain.Ledger
	Signatures   SignatureRecoverer
	Admin        AdminPolicy
	RootAdmin    domain.Address
	MaxRevoked   uint64
	MaxBatchSize int
}

func NewRegistry(ledger domain.Ledger, signatures SignatureRecoverer, rootAdmin domain.Address) *Registry {
	return &Registry{
		Ledger:       ledger,
		Signatures:   signatures,
		Admin:        RootAdminPolicy{},
		RootAdmin:    rootAdmin,
		MaxRevoked:   DefaultMaxRevoked,
		MaxBatchSize: DefaultMaxBatchSize,
	}
}

type RegisterRequest struct {
	Caller   domain.Address
	BoundKey domain.Address
}

type RevokeRequest struct {
	Caller      domain.Address
	DeviceID    domain.DeviceID
	Fingerprint domain.Hash
	Signature   []byte
}

type BatchRevokeRequest struct {
	Caller       domain.Address
	DeviceID     domain.DeviceID
	Fingerprints []domain.Hash
	Signatures   [][]byte
}

// DeviceProof is a signature by the device key over Message.
type DeviceProof struct {
	Message   []byte
	Signature []byte
}

type TransferRequest struct {
	Caller   domain.Address
	DeviceID domain.DeviceID
	NewOwner domain.Address
	// Proof, when set, must authenticate against the device's bound key.
	Proof *DeviceProof
}

type EmergencyTransferRequest struct {
	Caller   domain.Address
	DeviceID domain.DeviceID
	NewOwner domain.Address
}

func (r *Registry) Register(ctx context.Context, req RegisterRequest) (domain.DeviceID, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	var id domain.DeviceID
	_, err := r.Ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		if domain.IsZeroAddress(req.BoundKey) {
			return domain.ErrInvalidKey
		}
		if domain.IsZeroAddress(req.Caller) {
			return fmt.Errorf("%w: caller is required", domain.ErrInvalidInput)
		}
		next, err := tx.NextDeviceID(ctx)
		if err != nil {
			return err
		}
		rec := domain.DeviceRecord{
			ID:       next,
			Owner:    req.Caller,
			BoundKey: req.BoundKey,
			Exists:   true,
		}
		if err := tx.PutDevice(ctx, rec); err != nil {
			return err
		}
		tx.Emit(domain.Notification{
			Type:     domain.NotificationDeviceRegistered,
			DeviceID: next,
			Owner:    req.Caller,
			BoundKey: req.BoundKey,
		})
		id = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Revoke checks, in order: device exists, caller owns it, input is present,
// the signature recovers to the bound key, quota, and duplicates.
func (r *Registry) Revoke(ctx context.Context, req RevokeRequest) error {
	if err := r.ready(); err != nil {
		return err
	}
	_, err := r.Ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		rec, err := r.ownedDevice(ctx, tx, req.DeviceID, req.Caller)
		if err != nil {
			return err
		}
		if err := validateRevocationInput(req.Fingerprint, req.Signature); err != nil {
			return err
		}
		if !r.authenticate(rec, req.Fingerprint.Bytes(), req.Signature) {
			return authFailure(req.Fingerprint.Bytes(), req.Signature)
		}
		if rec.RevokedCount >= r.maxRevoked() {
			return domain.ErrQuotaExceeded
		}
		revoked, err := tx.IsRevoked(ctx, rec.ID, req.Fingerprint)
		if err != nil {
			return err
		}
		if revoked {
			return domain.ErrAlreadyRevoked
		}
		return r.applyRevocation(ctx, tx, &rec, req.Fingerprint)
	})
	return err
}

// BatchRevoke applies every fingerprint or none. The quota is checked once
// against the post-batch count before any item is looked at.
func (r *Registry) BatchRevoke(ctx context.Context, req BatchRevokeRequest) error {
	if err := r.ready(); err != nil {
		return err
	}
	_, err := r.Ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		rec, err := r.ownedDevice(ctx, tx, req.DeviceID, req.Caller)
		if err != nil {
			return err
		}
		n := len(req.Fingerprints)
		if n == 0 {
			return fmt.Errorf("%w: empty batch", domain.ErrInvalidInput)
		}
		if n != len(req.Signatures) {
			return fmt.Errorf("%w: %d fingerprints but %d signatures", domain.ErrInvalidInput, n, len(req.Signatures))
		}
		if n > r.maxBatchSize() {
			return fmt.Errorf("%w: batch of %d exceeds %d", domain.ErrInvalidInput, n, r.maxBatchSize())
		}
		if rec.RevokedCount+uint64(n) > r.maxRevoked() {
			return domain.ErrQuotaExceeded
		}

		seen := make(map[domain.Hash]struct{}, n)
		for i, fp := range req.Fingerprints {
			sig := req.Signatures[i]
			if err := validateRevocationInput(fp, sig); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			if !r.authenticate(rec, fp.Bytes(), sig) {
				return fmt.Errorf("item %d: %w", i, authFailure(fp.Bytes(), sig))
			}
			if _, dup := seen[fp]; dup {
				return fmt.Errorf("item %d: %w", i, domain.ErrAlreadyRevoked)
			}
			revoked, err := tx.IsRevoked(ctx, rec.ID, fp)
			if err != nil {
				return err
			}
			if revoked {
				return fmt.Errorf("item %d: %w", i, domain.ErrAlreadyRevoked)
			}
			seen[fp] = struct{}{}
			if err := r.applyRevocation(ctx, tx, &rec, fp); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

func (r *Registry) TransferOwnership(ctx context.Context, req TransferRequest) error {
	if err := r.ready(); err != nil {
		return err
	}
	_, err := r.Ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		rec, err := r.ownedDevice(ctx, tx, req.DeviceID, req.Caller)
		if err != nil {
			return err
		}
		if err := validateNewOwner(rec, req.NewOwner); err != nil {
			return err
		}
		if req.Proof != nil {
			if len(req.Proof.Message) == 0 {
				return fmt.Errorf("%w: empty message", domain.ErrInvalidInput)
			}
			if len(req.Proof.Signature) == 0 {
				return domain.ErrEmptySignature
			}
			if !r.authenticate(rec, req.Proof.Message, req.Proof.Signature) {
				return authFailure(req.Proof.Message, req.Proof.Signature)
			}
		}
		return applyTransfer(ctx, tx, rec, req.NewOwner, false)
	})
	return err
}

// EmergencyTransferOwnership moves a device to a new owner without the
// device key. Only the root admin may call it.
func (r *Registry) EmergencyTransferOwnership(ctx context.Context, req EmergencyTransferRequest) error {
	if err := r.ready(); err != nil {
		return err
	}
	_, err := r.Ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := requireNotPaused(ctx, tx); err != nil {
			return err
		}
		if err := r.authorizeAdmin(ctx, AdminOpEmergencyTransfer, req.Caller, req.DeviceID); err != nil {
			return err
		}
		rec, err := tx.GetDevice(ctx, req.DeviceID)
		if err != nil {
			return err
		}
		if err := validateNewOwner(rec, req.NewOwner); err != nil {
			return err
		}
		return applyTransfer(ctx, tx, rec, req.NewOwner, true)
	})
	return err
}

func (r *Registry) Pause(ctx context.Context, caller domain.Address) error {
	return r.setPaused(ctx, caller, true)
}

func (r *Registry) Unpause(ctx context.Context, caller domain.Address) error {
	return r.setPaused(ctx, caller, false)
}

func (r *Registry) setPaused(ctx context.Context, caller domain.Address, paused bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	op, typ := AdminOpUnpause, domain.NotificationUnpaused
	if paused {
		op, typ = AdminOpPause, domain.NotificationPaused
	}
	_, err := r.Ledger.Execute(ctx, func(tx domain.LedgerTx) error {
		if err := r.authorizeAdmin(ctx, op, caller, 0); err != nil {
			return err
		}
		current, err := tx.Paused(ctx)
		if err != nil {
			return err
		}
		if paused && current {
			return domain.ErrSystemPaused
		}
		if !paused && !current {
			return domain.ErrNotPaused
		}
		if err := tx.SetPaused(ctx, paused); err != nil {
			return err
		}
		tx.Emit(domain.Notification{Type: typ, Owner: caller})
		return nil
	})
	return err
}

// Authenticate reports whether signature over message was produced by the
// key bound to id. Unknown devices and malformed signatures are false, with
// no indication of which check failed.
func (r *Registry) Authenticate(ctx context.Context, id domain.DeviceID, message, signature []byte) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	var ok bool
	err := r.Ledger.View(ctx, func(lr domain.LedgerReader) error {
		rec, err := lr.GetDevice(ctx, id)
		if errors.Is(err, domain.ErrDeviceNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = r.authenticate(rec, message, signature)
		return nil
	})
	return ok, err
}

func (r *Registry) IsRevoked(ctx context.Context, id domain.DeviceID, fingerprint domain.Hash) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	var revoked bool
	err := r.Ledger.View(ctx, func(lr domain.LedgerReader) error {
		var err error
		revoked, err = lr.IsRevoked(ctx, id, fingerprint)
		return err
	})
	return revoked, err
}

// GetDeviceInfo returns Exists=false for unknown ids rather than an error.
func (r *Registry) GetDeviceInfo(ctx context.Context, id domain.DeviceID) (domain.DeviceInfo, error) {
	if err := r.ready(); err != nil {
		return domain.DeviceInfo{}, err
	}
	var info domain.DeviceInfo
	err := r.Ledger.View(ctx, func(lr domain.LedgerReader) error {
		rec, err := lr.GetDevice(ctx, id)
		if errors.Is(err, domain.ErrDeviceNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		info = rec.Info()
		return nil
	})
	return info, err
}

func (r *Registry) GetRevokedCount(ctx context.Context, id domain.DeviceID) (uint64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	var count uint64
	err := r.Ledger.View(ctx, func(lr domain.LedgerReader) error {
		rec, err := lr.GetDevice(ctx, id)
		if err != nil {
			return err
		}
		count = rec.RevokedCount
		return nil
	})
	return count, err
}

func (r *Registry) TotalDevices(ctx context.Context) (uint64, error) {
	if err := r.ready(); err != nil {
		return 0, err
	}
	var total uint64
	err := r.Ledger.View(ctx, func(lr domain.LedgerReader) error {
		var err error
		total, err = lr.TotalDevices(ctx)
		return err
	})
	return total, err
}

func (r *Registry) Paused(ctx context.Context) (bool, error) {
	if err := r.ready(); err != nil {
		return false, err
	}
	var paused bool
	err := r.Ledger.View(ctx, func(lr domain.LedgerReader) error {
		var err error
		paused, err = lr.Paused(ctx)
		return err
	})
	return paused, err
}

func (r *Registry) ready() error {
	if r == nil {
		return errors.New("registry is nil")
	}
	if r.Ledger == nil {
		return errors.New("ledger is required")
	}
	if r.Signatures == nil {
		return errors.New("signature recoverer is required")
	}
	return nil
}

func (r *Registry) maxRevoked() uint64 {
	if r.MaxRevoked == 0 {
		return DefaultMaxRevoked
	}
	return r.MaxRevoked
}

func (r *Registry) maxBatchSize() int {
	if r.MaxBatchSize <= 0 {
		return DefaultMaxBatchSize
	}
	return r.MaxBatchSize
}

func (r *Registry) authorizeAdmin(ctx context.Context, op AdminOperation, caller domain.Address, id domain.DeviceID) error {
	policy := r.Admin
	if policy == nil {
		policy = RootAdminPolicy{}
	}
	return policy.Authorize(ctx, AdminRequest{
		Operation: op,
		Caller:    caller,
		RootAdmin: r.RootAdmin,
		DeviceID:  id,
	})
}

func (r *Registry) ownedDevice(ctx context.Context, tx domain.LedgerReader, id domain.DeviceID, caller domain.Address) (domain.DeviceRecord, error) {
	rec, err := tx.GetDevice(ctx, id)
	if err != nil {
		return domain.DeviceRecord{}, err
	}
	if caller != rec.Owner {
		return domain.DeviceRecord{}, domain.ErrNotOwner
	}
	return rec, nil
}

// authenticate binds by exact key equality, never by device id alone.
func (r *Registry) authenticate(rec domain.DeviceRecord, message, signature []byte) bool {
	if !rec.Exists || domain.IsZeroAddress(rec.BoundKey) {
		return false
	}
	signer, err := r.Signatures.RecoverSigner(message, signature)
	if err != nil {
		return false
	}
	return signer == rec.BoundKey
}

func (r *Registry) applyRevocation(ctx context.Context, tx domain.LedgerTx, rec *domain.DeviceRecord, fp domain.Hash) error {
	if err := tx.MarkRevoked(ctx, rec.ID, fp); err != nil {
		return err
	}
	rec.RevokedCount++
	if err := tx.PutDevice(ctx, *rec); err != nil {
		return err
	}
	tx.Emit(domain.Notification{
		Type:        domain.NotificationCredentialRevoked,
		DeviceID:    rec.ID,
		Fingerprint: fp,
		Owner:       rec.Owner,
	})
	return nil
}

func applyTransfer(ctx context.Context, tx domain.LedgerTx, rec domain.DeviceRecord, newOwner domain.Address, emergency bool) error {
	previous := rec.Owner
	rec.Owner = newOwner
	if err := tx.PutDevice(ctx, rec); err != nil {
		return err
	}
	tx.Emit(domain.Notification{
		Type:          domain.NotificationOwnershipTransferred,
		DeviceID:      rec.ID,
		Owner:         newOwner,
		PreviousOwner: previous,
		Emergency:     emergency,
	})
	return nil
}

func requireNotPaused(ctx context.Context, tx domain.LedgerReader) error {
	paused, err := tx.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return domain.ErrSystemPaused
	}
	return nil
}

func validateRevocationInput(fp domain.Hash, signature []byte) error {
	if len(signature) == 0 {
		return domain.ErrEmptySignature
	}
	if domain.IsZeroHash(fp) {
		return domain.ErrZeroFingerprint
	}
	return nil
}

func validateNewOwner(rec domain.DeviceRecord, newOwner domain.Address) error {
	if domain.IsZeroAddress(newOwner) {
		return fmt.Errorf("%w: new owner is required", domain.ErrInvalidInput)
	}
	if newOwner == rec.Owner {
		return domain.ErrSameOwner
	}
	return nil
}

func authFailure(message, signature []byte) error {
	return &domain.AuthenticationError{
		Message:   append([]byte(nil), message...),
		Signature: append([]byte(nil), signature...),
	}
}
