package validation

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxTextLength       int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware guards endpoints that accept a journal entry in a JSON "text"
// field. It enforces the content type and a maximum entry length and strips
// NUL bytes. The minimum length rule belongs to the handlers.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxTextLength == 0 {
		cfg.MaxTextLength = 10000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var req map[string]interface{}
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			// Malformed bodies are reported by the handler.
			return c.Next()
		}

		text, ok := req["text"].(string)
		if !ok {
			return c.Next()
		}

		if utf8.RuneCountInString(text) > cfg.MaxTextLength {
			cfg.Logger.Warn("Journal entry exceeds maximum length",
				zap.String("ip", c.IP()),
				zap.Int("length", utf8.RuneCountInString(text)),
			)
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "Text exceeds maximum length",
			})
		}

		if sanitized := sanitizeString(text); sanitized != text {
			req["text"] = sanitized
			body, err := json.Marshal(req)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}
			c.Request().SetBody(body)
		}

		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, allowedType := range allowed {
		if strings.Contains(contentType, allowedType) {
			return true
		}
	}
	return false
}

func sanitizeString(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}
