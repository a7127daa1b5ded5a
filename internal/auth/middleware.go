package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/triage-service/internal/config"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller.
type Principal struct {
	Subject string
	Method  string
	Scopes  []Scope
}

// AuthMiddleware accepts bearer tokens issued by TokenManager or basic credentials
// checked against a bcrypt hash. With neither configured every caller is let through
// with the webhook scope.
type AuthMiddleware struct {
	tokens    *TokenManager
	basicUser string
	basicHash string
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, cfg config.AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, basicUser: cfg.BasicUser, basicHash: cfg.BasicPasswordHash}
}

// Open reports whether authentication is disabled.
func (m *AuthMiddleware) Open() bool {
	return !m.tokens.Enabled() && m.basicUser == ""
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	if m.Open() {
		c.Locals(principalKey, &Principal{Subject: "anonymous", Method: "none", Scopes: []Scope{ScopeWebhook}})
		return c.Next()
	}

	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	var principal *Principal
	switch {
	case strings.EqualFold(parts[0], "Bearer") && m.tokens.Enabled():
		claims, err := m.tokens.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			return apperrors.NewUnauthorized("invalid token")
		}
		principal = &Principal{Subject: claims.Subject, Method: "jwt", Scopes: claims.Scopes}
	case strings.EqualFold(parts[0], "Basic") && m.basicUser != "":
		user, ok := m.checkBasic(strings.TrimSpace(parts[1]))
		if !ok {
			return apperrors.NewUnauthorized("invalid credentials")
		}
		principal = &Principal{Subject: user, Method: "basic", Scopes: []Scope{ScopeWebhook}}
	default:
		return apperrors.NewUnauthorized("unsupported authorization scheme")
	}

	c.Locals(principalKey, principal)
	return c.Next()
}

func (m *AuthMiddleware) checkBasic(encoded string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	user, pass, found := strings.Cut(string(raw), ":")
	if !found || subtle.ConstantTimeCompare([]byte(user), []byte(m.basicUser)) != 1 {
		return "", false
	}
	if ComparePassword(m.basicHash, pass) != nil {
		return "", false
	}
	return user, true
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
