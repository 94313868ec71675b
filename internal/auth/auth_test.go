package auth

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

func TestTokenManager_RoundTrip(t *testing.T) {
	team := "billing"
	tm := NewTokenManager("secret", time.Hour)
	token, expires, err := tm.GenerateToken(domain.Principal{ID: "agent-1", Name: "Ann", Email: "ann@acme.test", Team: &team})
	require.NoError(t, err)
	assert.True(t, expires.After(time.Now()))

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	principal := claims.Principal()
	assert.Equal(t, "agent-1", principal.ID)
	assert.Equal(t, "Ann", principal.Name)
	require.NotNil(t, principal.Team)
	assert.Equal(t, "billing", *principal.Team)
}

func TestTokenManager_RejectsForeignSecretAndExpiry(t *testing.T) {
	issuer := NewTokenManager("one", time.Hour)
	token, _, err := issuer.GenerateToken(domain.Principal{ID: "agent-1"})
	require.NoError(t, err)

	_, err = NewTokenManager("two", time.Hour).ParseToken(token)
	assert.Error(t, err)

	late := NewTokenManager("one", time.Hour)
	late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = late.ParseToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RequiresAgentID(t *testing.T) {
	_, _, err := NewTokenManager("s", time.Hour).GenerateToken(domain.Principal{})
	assert.Error(t, err)
}

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		return c.SendStatus(apperrors.ToDomainError(err).HTTPStatus)
	}})
	chain := append(handlers, func(c *fiber.Ctx) error {
		if p, ok := PrincipalFromContext(c); ok {
			return c.SendString(p.ID)
		}
		return c.SendString("ok")
	})
	app.Get("/", chain...)
	return app
}

func TestAuthMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", time.Hour)
	app := newApp(NewAuthMiddleware(tm).Handle)
	token, _, err := tm.GenerateToken(domain.Principal{ID: "agent-7"})
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"not bearer", "Basic abc", fiber.StatusUnauthorized},
		{"garbage", "Bearer nope", fiber.StatusUnauthorized},
		{"valid", "Bearer " + token, fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			if tc.status == fiber.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, "agent-7", string(body))
			}
		})
	}
}

func TestRequireWebhookSecret(t *testing.T) {
	app := newApp(RequireWebhookSecret("s3cret"))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(WebhookSecretHeader, "wrong")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(WebhookSecretHeader, "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	closed := newApp(RequireWebhookSecret(""))
	resp, err = closed.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
