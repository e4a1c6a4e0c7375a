package usecase

import (
	"context"

	"accesscontrol/internal/domain"
)

type SignatureRecoverer interface {
	RecoverSigner(message, signature []byte) (domain.Address, error)
}

type AdminOperation string

const (
	AdminOpPause             AdminOperation = "pause"
	AdminOpUnpause           AdminOperation = "unpause"
	AdminOpEmergencyTransfer AdminOperation = "emergency_transfer"
)

type AdminRequest struct {
	Operation AdminOperation  `json:"operation"`
	Caller    domain.Address  `json:"caller"`
	RootAdmin domain.Address  `json:"root_admin"`
	DeviceID  domain.DeviceID `json:"device_id,omitempty"`
}

// AdminPolicy decides whether a caller may run a root-admin operation.
// Implementations return domain.ErrNotRootAdmin on denial.
type AdminPolicy interface {
	Authorize(ctx context.Context, req AdminRequest) error
}
