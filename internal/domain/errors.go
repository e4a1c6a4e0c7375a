package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	ErrInvalidKey           = errors.New("invalid key")
	ErrInvalidInput         = errors.New("invalid input")
	ErrEmptySignature       = fmt.Errorf("%w: empty signature", ErrInvalidInput)
	ErrZeroFingerprint      = fmt.Errorf("%w: zero fingerprint", ErrInvalidInput)
	ErrDeviceNotFound       = errors.New("device not found")
	ErrNotOwner             = errors.New("caller is not the device owner")
	ErrNotRootAdmin         = errors.New("caller is not the root admin")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrQuotaExceeded        = errors.New("revocation quota exceeded")
	ErrAlreadyRevoked       = errors.New("credential already revoked")
	ErrSameOwner            = errors.New("new owner equals current owner")
	ErrSystemPaused         = errors.New("system paused")
	ErrNotPaused            = errors.New("system not paused")
	ErrNotFound             = errors.New("not found")
)

// AuthenticationError reports a signature that did not recover to the bound
// key. It keeps the request material for diagnostics only.
type AuthenticationError struct {
	Message   []byte
	Signature []byte
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: message=0x%s signature=0x%s",
		ErrAuthenticationFailed.Error(),
		hex.EncodeToString(e.Message),
		hex.EncodeToString(e.Signature),
	)
}

func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}
