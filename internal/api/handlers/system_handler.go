package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const redirectPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <meta http-equiv="refresh" content="0;url=/client/build/index.html">
  <title>English Speech Assessment</title>
</head>
<body>
  <p>Redirecting to application...</p>
</body>
</html>
`

// Check is a named readiness probe.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

type SystemHandler struct {
	checks       []Check
	breakerState func() string
}

func NewSystemHandler(breakerState func() string, checks ...Check) *SystemHandler {
	return &SystemHandler{
		checks:       checks,
		breakerState: breakerState,
	}
}

func (h *SystemHandler) Hello(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Hello from the English check backend!",
	})
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	body := fiber.Map{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}
	if h.breakerState != nil {
		body["webhookCircuit"] = h.breakerState()
	}
	return c.JSON(body)
}

func (h *SystemHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	failures := fiber.Map{}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failures[check.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "not ready",
			"failures": failures,
		})
	}
	return c.JSON(fiber.Map{
		"status": "ready",
	})
}

// Root serves the redirect page used when no client build is mounted.
func (h *SystemHandler) Root(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.SendString(redirectPage)
}
