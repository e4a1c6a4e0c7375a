package usecase

import (
	"context"

	"accesscontrol/internal/domain"
)

// RootAdminPolicy allows exactly the configured root admin.
type RootAdminPolicy struct{}

func (RootAdminPolicy) Authorize(_ context.Context, req AdminRequest) error {
	if domain.IsZeroAddress(req.RootAdmin) || req.Caller != req.RootAdmin {
		return domain.ErrNotRootAdmin
	}
	return nil
}

var _ AdminPolicy = RootAdminPolicy{}
