package auth

import (
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/triage-service/internal/config"
	apperrors "github.com/spec-kit/triage-service/pkg/util/errorutil"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("s3cret", 5)

	token, expiresAt, err := tm.GenerateToken("znuny", ScopeWebhook)
	require.NoError(t, err)
	assert.False(t, expiresAt.IsZero())

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "znuny", claims.Subject)
	assert.Equal(t, []Scope{ScopeWebhook}, claims.Scopes)
}

func TestTokenRejectedWithOtherSecret(t *testing.T) {
	token, _, err := NewTokenManager("one", 5).GenerateToken("znuny", ScopeWebhook)
	require.NoError(t, err)

	_, err = NewTokenManager("two", 5).ParseToken(token)
	assert.Error(t, err)
}

func TestGenerateTokenRequiresSecret(t *testing.T) {
	_, _, err := NewTokenManager("", 5).GenerateToken("znuny")
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("short", bcrypt.MinCost)
	assert.Error(t, err)

	hash, err := HashPassword("correct horse battery", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, "correct horse battery"))
	assert.Error(t, ComparePassword(hash, "wrong horse battery"))
}

func newApp(m *AuthMiddleware, scopes ...Scope) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		var de *apperrors.DomainError
		if errors.As(err, &de) {
			return c.SendStatus(de.HTTPStatus)
		}
		return fiber.DefaultErrorHandler(c, err)
	}})
	app.Post("/hook", m.Handle, RequireScope(scopes...), func(c *fiber.Ctx) error {
		p, _ := PrincipalFromContext(c)
		return c.SendString(p.Subject)
	})
	return app
}

func call(t *testing.T, app *fiber.App, authorization string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/hook", nil)
	if authorization != "" {
		req.Header.Set(fiber.HeaderAuthorization, authorization)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestMiddlewareOpenWhenUnconfigured(t *testing.T) {
	app := newApp(NewAuthMiddleware(NewTokenManager("", 5), config.AuthConfig{}), ScopeWebhook)

	assert.Equal(t, fiber.StatusOK, call(t, app, ""))
}

func TestMiddlewareBearer(t *testing.T) {
	tm := NewTokenManager("s3cret", 5)
	app := newApp(NewAuthMiddleware(tm, config.AuthConfig{}), ScopeWebhook)
	webhookToken, _, err := tm.GenerateToken("znuny", ScopeWebhook)
	require.NoError(t, err)
	opsToken, _, err := tm.GenerateToken("operator", ScopeOps)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, ""))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "Bearer garbage"))
	assert.Equal(t, fiber.StatusForbidden, call(t, app, "Bearer "+opsToken))
	assert.Equal(t, fiber.StatusOK, call(t, app, "Bearer "+webhookToken))
}

func TestMiddlewareBasic(t *testing.T) {
	hash, err := HashPassword("correct horse battery", bcrypt.MinCost)
	require.NoError(t, err)
	m := NewAuthMiddleware(NewTokenManager("", 5), config.AuthConfig{BasicUser: "znuny", BasicPasswordHash: hash})
	app := newApp(m, ScopeWebhook)

	encode := func(user, pass string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
	}
	assert.Equal(t, fiber.StatusOK, call(t, app, encode("znuny", "correct horse battery")))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, encode("znuny", "nope")))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, encode("other", "correct horse battery")))
	assert.Equal(t, fiber.StatusUnauthorized, call(t, app, "Bearer anything"))
}
