package security

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	// WebhookURL is added to connect-src so the browser client can call the
	// webhook directly after a gateway timeout.
	WebhookURL    string
	IsDevelopment bool
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data: https:; " +
		"media-src 'self' blob: data:; " +
		"font-src 'self' data:; " +
		"connect-src 'self' " + buildConnectSrc(cfg.AllowedOrigins, cfg.WebhookURL) + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("Permissions-Policy", "microphone=(self)")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Set("Content-Security-Policy", csp)

		return c.Next()
	}
}

func buildConnectSrc(origins []string, webhookURL string) string {
	sources := make([]string, 0, len(origins)+1)
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			sources = append(sources, origin)
		}
	}
	if u, err := url.Parse(webhookURL); err == nil && u.Scheme != "" && u.Host != "" {
		sources = append(sources, u.Scheme+"://"+u.Host)
	}
	return strings.Join(sources, " ")
}
