package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQuestionLength int
	MaxCriteriaLength int
	Logger            *zap.Logger
}

// SubmissionMiddleware guards the multipart submission endpoints: the body
// must be multipart/form-data and the text fields must be sane. Field values
// are sanitized and stored in Locals for the handler.
func SubmissionMiddleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
	}
	if cfg.MaxCriteriaLength == 0 {
		cfg.MaxCriteriaLength = 16 * 1024
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		if !strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error":   "Unsupported content type",
				"details": "Expected multipart/form-data",
			})
		}

		question := sanitizeString(c.FormValue("question"))
		if len(question) > cfg.MaxQuestionLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question exceeds maximum length",
			})
		}
		if containsXSS(question) {
			cfg.Logger.Warn("Potential XSS attempt in question",
				zap.String("ip", c.IP()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid question content",
			})
		}

		criteria := sanitizeString(c.FormValue("criteria"))
		if len(criteria) > cfg.MaxCriteriaLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Criteria exceeds maximum length",
			})
		}

		c.Locals("question", question)
		c.Locals("studyLevel", sanitizeString(c.FormValue("studyLevel")))
		c.Locals("criteria", criteria)

		return c.Next()
	}
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
