package auth

import (
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

// Scope grants access to a group of routes.
type Scope string

const (
	ScopeWebhook Scope = "webhook"
	ScopeOps     Scope = "ops"
)

// Has reports whether the principal carries the scope.
func (p *Principal) Has(scope Scope) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RequireScope ensures the authenticated principal carries one of the allowed scopes.
func RequireScope(allowed ...Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		for _, scope := range allowed {
			if principal.Has(scope) {
				return c.Next()
			}
		}
		return apperrors.NewForbidden("insufficient scope")
	}
}
