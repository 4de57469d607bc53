package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestAllowRefills(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()

	clock := time.Unix(0, 0)
	rl.now = func() time.Time { return clock }

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("First two requests should pass")
	}
	if rl.allow("a") {
		t.Error("Third request within the window should be limited")
	}
	if !rl.allow("b") {
		t.Error("Other clients have their own bucket")
	}

	clock = clock.Add(30 * time.Second)
	if !rl.allow("a") {
		t.Error("One token should refill after half a window")
	}
}

func TestMiddlewareReturns429(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 1})
	defer rl.Stop()

	app := fiber.New()
	app.Post("/check-english", rl.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/check-english", nil))
	if err != nil || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("First request: %v, %v", resp, err)
	}
	resp, err = app.Test(httptest.NewRequest("POST", "/check-english", nil))
	if err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", resp.StatusCode)
	}
}
