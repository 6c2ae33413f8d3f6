// Package authz contains the access decision contracts of devgate: the classification of requests into
// operation classes, the decisions the gate can reach and the policies it consults.
package authz

import (
	"context"
	"net/http"

	"github.com/unbasical/devgate/pkg/authn"
)

// OperationClass is the read/write intent of a request.
type OperationClass int

const (
	Unsupported OperationClass = iota
	Read
	Write
)

func (o OperationClass) String() string {
	switch o {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "unsupported"
	}
}

// ClassifyMethod maps a HTTP method to its OperationClass.
// GET reads, PUT, POST and DELETE write, every other method is unsupported.
func ClassifyMethod(method string) OperationClass {
	switch method {
	case http.MethodGet:
		return Read
	case http.MethodPut, http.MethodPost, http.MethodDelete:
		return Write
	default:
		return Unsupported
	}
}

// AccessDecision is the outcome of a single access check. Decisions are never cached.
type AccessDecision int

const (
	Allowed AccessDecision = iota
	DeniedNoIdentity
	DeniedNoPermission
	DeniedUnsupportedMethod
)

func (d AccessDecision) String() string {
	switch d {
	case Allowed:
		return "ALLOW"
	case DeniedNoIdentity:
		return "DENY_NO_IDENTITY"
	case DeniedNoPermission:
		return "DENY_NO_PERMISSION"
	case DeniedUnsupportedMethod:
		return "DENY_UNSUPPORTED_METHOD"
	default:
		return "UNKNOWN"
	}
}

// Policy is the interface answering whether a user connected from an address may access a device.
//
// Failures must be reported as typed errors (i.e. errors.CommandNotSupportedError or
// errors.BackendUnavailableError) and never be mapped to a denial.
type Policy interface {
	CanRead(ctx context.Context, user, address, device string) (bool, error)
	CanWrite(ctx context.Context, user, address, device string) (bool, error)
}

// Gate is the interface that reaches an AccessDecision for a single request.
type Gate interface {
	// Decide checks the principal (nil for anonymous requests) against the device for the operation
	// class of the given HTTP method.
	Decide(ctx context.Context, principal *authn.Principal, device, method string) (AccessDecision, error)
}
