package security

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg HeadersConfig) *fiber.App {
	app := fiber.New()
	app.Use(HeadersMiddleware(cfg))
	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Get("/api/patients", func(c *fiber.Ctx) error { return c.JSON([]string{}) })
	return app
}

func TestHeadersProduction(t *testing.T) {
	app := newApp(HeadersConfig{AllowedOrigins: []string{"https://virtual-therapist.vercel.app"}})

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)

	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Contains(t, resp.Header.Get("Strict-Transport-Security"), "max-age=31536000")
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"),
		"connect-src 'self' https://virtual-therapist.vercel.app;")
	assert.Empty(t, resp.Header.Get("Cache-Control"))
}

func TestHeadersDevelopmentSkipsHSTS(t *testing.T) {
	app := newApp(HeadersConfig{IsDevelopment: true})

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)

	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "connect-src 'self';")
}

func TestAPIResponsesAreNotCached(t *testing.T) {
	app := newApp(HeadersConfig{})

	resp, err := app.Test(httptest.NewRequest("GET", "/api/patients", nil))
	require.NoError(t, err)

	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}
