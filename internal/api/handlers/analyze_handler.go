package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/gateway"
	"github.com/virtual-therapist/backend/internal/routing"
	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/pkg/logger"
)

type AnalysisService interface {
	Analyze(ctx context.Context, text string) (*routing.RoutedResult, error)
	AnalyzeForPatient(ctx context.Context, ownerID, patientID, text string) (*models.HistoryEntry, error)
}

type AnalyzeHandler struct {
	service AnalysisService
}

func NewAnalyzeHandler(service AnalysisService) *AnalyzeHandler {
	return &AnalyzeHandler{
		service: service,
	}
}

// HandleAnalyze serves the public, unauthenticated analysis endpoint.
func (h *AnalyzeHandler) HandleAnalyze(c *fiber.Ctx) error {
	text, ok := parseText(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	result, err := h.service.Analyze(c.UserContext(), text)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrValidation):
			return errorJSON(c, fiber.StatusBadRequest, "Text is too short")
		case errors.Is(err, gateway.ErrUpstream):
			logger.Error("Analysis service error", zap.Error(err))
			return errorJSON(c, fiber.StatusBadGateway, "Analysis service unavailable")
		default:
			logger.Error("Failed to analyze text", zap.Error(err))
			return errorJSON(c, fiber.StatusInternalServerError, "Server error")
		}
	}

	return c.JSON(result)
}

// parseText reads the "text" field of a JSON body. An empty body yields an
// empty text so that it fails the length check like a missing field does.
func parseText(c *fiber.Ctx) (string, bool) {
	var req struct {
		Text string `json:"text"`
	}

	if len(c.Body()) == 0 {
		return "", true
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Debug("Failed to parse request body", zap.Error(err))
		return "", false
	}

	return req.Text, true
}

func errorJSON(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
	})
}
