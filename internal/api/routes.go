package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/english-check/backend/internal/api/handlers"
	"github.com/english-check/backend/internal/metrics"
	"github.com/english-check/backend/internal/middleware/ratelimit"
	"github.com/english-check/backend/internal/middleware/security"
	"github.com/english-check/backend/internal/middleware/validation"
	"github.com/english-check/backend/pkg/config"
)

// Deps are the handlers the router mounts. History, WebSocket and
// RateLimiter are optional.
type Deps struct {
	Check     *handlers.CheckHandler
	Status    *handlers.StatusHandler
	History   *handlers.HistoryHandler
	WebSocket *handlers.WebSocketHandler
	System    *handlers.SystemHandler

	RateLimiter *ratelimit.RateLimiter
	WebhookURL  string
	Logger      *zap.Logger
}

func NewApp(cfg config.ServerConfig) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:      "english-check",
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:    cfg.BodyLimit,
		ErrorHandler: handlers.ErrorHandler,
	})
}

func RegisterRoutes(app *fiber.App, cfg config.ServerConfig, d Deps) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	origins := splitOrigins(cfg.AllowedOrigins)

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Content-Length, X-Requested-With, Prefer",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: !containsWildcard(origins),
		ExposeHeaders:    "X-Request-ID, X-Deduplicated",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: origins,
		WebhookURL:     d.WebhookURL,
		IsDevelopment:  cfg.IsDevelopment,
	}))

	submit := []fiber.Handler{}
	if d.RateLimiter != nil {
		submit = append(submit, d.RateLimiter.Middleware())
	}
	submit = append(submit,
		validation.SubmissionMiddleware(validation.Config{Logger: d.Logger}),
		d.Check.CheckEnglish,
	)

	app.Get("/metrics", metrics.MetricsHandler())
	app.Get("/hello", d.System.Hello)
	app.Post("/check-english", submit...)

	api := app.Group("/api")
	api.Get("/hello", d.System.Hello)
	api.Get("/health", d.System.Health)
	api.Get("/ready", d.System.Ready)
	api.Post("/check-english", submit...)
	api.Get("/status", d.Status.GetStatus)
	api.Get("/jobs", d.Status.ListJobs)

	if d.History != nil {
		api.Get("/history", d.History.ListHistory)
		api.Get("/history/export", d.History.ExportHistory)
		api.Get("/history/:requestId", d.History.GetHistory)
	}

	if d.WebSocket != nil {
		api.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		api.Get("/ws/status", websocket.New(d.WebSocket.HandleConnection))
	}

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	} else {
		app.Get("/", d.System.Root)
	}
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
