// Package auth provides the default Authorizer implementation. Policy
// evaluation is out of scope for the engine; deployments integrate their own
// ports.Authorizer against a real policy backend.
package auth

import (
	"context"

	"github.com/tigerroll/marlin/pkg/bulk/core/ports"
	"github.com/tigerroll/marlin/pkg/bulk/support/util/logger"
)

// AllowAllAuthorizer is an Authorizer implementation that permits every
// submission. It logs each decision so permissive deployments stay auditable.
type AllowAllAuthorizer struct{}

// NewAllowAllAuthorizer creates a new instance of AllowAllAuthorizer.
func NewAllowAllAuthorizer() ports.Authorizer {
	return &AllowAllAuthorizer{}
}

func (a *AllowAllAuthorizer) Authorize(ctx context.Context, actor, action, entityType string) (bool, error) {
	logger.Debugf("Authorizer: allowing actor '%s' to run '%s' on '%s'.", actor, action, entityType)
	return true, nil
}

var _ ports.Authorizer = (*AllowAllAuthorizer)(nil)
