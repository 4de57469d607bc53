package security

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHeadersIncludeWebhookOrigin(t *testing.T) {
	app := fiber.New()
	app.Use(HeadersMiddleware(HeadersConfig{
		AllowedOrigins: []string{"http://localhost:3000", " "},
		WebhookURL:     "https://tauga.app.n8n.cloud/webhook/english-test",
		IsDevelopment:  true,
	}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	csp := resp.Header.Get("Content-Security-Policy")
	if !strings.Contains(csp, "connect-src 'self' http://localhost:3000 https://tauga.app.n8n.cloud;") {
		t.Errorf("Unexpected connect-src in %q", csp)
	}
	if resp.Header.Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must be off in development")
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Error("Expected X-Frame-Options DENY")
	}
}
