package validation

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Post("/check-english", SubmissionMiddleware(Config{MaxQuestionLength: 50}), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"question": c.Locals("question")})
	})
	return app
}

func formBody(fields map[string]string) (*bytes.Buffer, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	_ = w.Close()
	return &buf, w.FormDataContentType()
}

func TestRejectsNonMultipart(t *testing.T) {
	req := httptest.NewRequest("POST", "/check-english", strings.NewReader(`{"question":"hi"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := newApp().Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnsupportedMediaType {
		t.Errorf("Expected 415, got %d", resp.StatusCode)
	}
}

func TestSanitizesQuestion(t *testing.T) {
	body, ct := formBody(map[string]string{"question": "  Tell me about yourself.\x00  "})
	req := httptest.NewRequest("POST", "/check-english", body)
	req.Header.Set("Content-Type", ct)

	resp, err := newApp().Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var out bytes.Buffer
	_, _ = out.ReadFrom(resp.Body)
	if !strings.Contains(out.String(), `"Tell me about yourself."`) {
		t.Errorf("Question not sanitized: %s", out.String())
	}
}

func TestRejectsLongOrScriptedQuestion(t *testing.T) {
	for _, q := range []string{strings.Repeat("a", 51), "<script>alert(1)</script>"} {
		body, ct := formBody(map[string]string{"question": q})
		req := httptest.NewRequest("POST", "/check-english", body)
		req.Header.Set("Content-Type", ct)

		resp, err := newApp().Test(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Errorf("Question %.20q: expected 400, got %d", q, resp.StatusCode)
		}
	}
}
