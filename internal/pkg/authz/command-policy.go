package authz

import (
	"context"
	"strings"

	"github.com/unbasical/devgate/pkg/authz"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/data"
)

const (
	rightsWrite = "write"
	rightsRead  = "read"
)

// commandPolicy asks an access control database via the "GetAccess" command.
// "write" grants read and write access, "read" grants read access only.
type commandPolicy struct {
	executor data.CommandExecutor
}

// NewCommandPolicy creates an authz.Policy on top of a configured data.CommandExecutor.
func NewCommandPolicy(executor data.CommandExecutor) authz.Policy {
	return &commandPolicy{executor: executor}
}

func (p *commandPolicy) rights(ctx context.Context, user, address, device string) (string, error) {
	result, err := p.executor.Execute(ctx, constants.CommandGetAccess, user, address, device)
	if err != nil {
		return "", err
	}
	if len(result) == 0 {
		return "", nil
	}
	return strings.ToLower(strings.TrimSpace(result[0])), nil
}

func (p *commandPolicy) CanRead(ctx context.Context, user, address, device string) (bool, error) {
	rights, err := p.rights(ctx, user, address, device)
	if err != nil {
		return false, err
	}
	return rights == rightsRead || rights == rightsWrite, nil
}

func (p *commandPolicy) CanWrite(ctx context.Context, user, address, device string) (bool, error) {
	rights, err := p.rights(ctx, user, address, device)
	if err != nil {
		return false, err
	}
	return rights == rightsWrite, nil
}
