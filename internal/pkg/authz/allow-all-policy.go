package authz

import (
	"context"

	"github.com/unbasical/devgate/pkg/authz"
	"github.com/unbasical/devgate/pkg/constants/logging"
)

type allowAllPolicy struct{}

// NewAllowAllPolicy creates an authz.Policy granting every access. Only meant for development.
func NewAllowAllPolicy() authz.Policy {
	logging.LogForComponent("allowAllPolicy").Warn("Access control is disabled, every authenticated user may read and write every device!")
	return allowAllPolicy{}
}

func (allowAllPolicy) CanRead(context.Context, string, string, string) (bool, error) {
	return true, nil
}

func (allowAllPolicy) CanWrite(context.Context, string, string, string) (bool, error) {
	return true, nil
}
