// Package auth decides which principals may administer tier overrides.
package auth

import (
	"context"
	"strings"

	"github.com/rcourtman/tierengine/pkg/entitlement"
)

// Authorizer decides whether a principal is an administrator.
type Authorizer interface {
	IsAuthorizedAdmin(principal string) bool
}

type contextKey string

const contextKeyPrincipal contextKey = "principal"

// WithPrincipal adds the acting principal to the context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, strings.TrimSpace(principal))
}

// GetPrincipal extracts the acting principal from the context.
func GetPrincipal(ctx context.Context) string {
	if principal, ok := ctx.Value(contextKeyPrincipal).(string); ok {
		return principal
	}
	return ""
}

// DenyAll rejects every principal. It is used when no administrators are
// configured.
type DenyAll struct{}

func (DenyAll) IsAuthorizedAdmin(string) bool {
	return false
}

// Predicate adapts an Authorizer to the predicate the resolver expects. A nil
// authorizer denies everything.
func Predicate(a Authorizer) entitlement.AuthPredicate {
	if a == nil {
		a = DenyAll{}
	}
	return a.IsAuthorizedAdmin
}
