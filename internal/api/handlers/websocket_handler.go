package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/gateway"
	"github.com/virtual-therapist/backend/internal/routing"
	"github.com/virtual-therapist/backend/pkg/logger"
)

const wsAnalyzeTimeout = 60 * time.Second

// WebSocketHandler runs the public analysis flow over a websocket so that a
// client can keep one connection open while journaling.
type WebSocketHandler struct {
	service AnalysisService
}

func NewWebSocketHandler(service AnalysisService) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

// Upgrade rejects plain HTTP requests to the websocket route.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "analyze" {
			if err := h.sendError(c, "Unsupported message type"); err != nil {
				break
			}
			continue
		}

		if err := h.analyze(c, msg.Text); err != nil {
			logger.Error("Failed to write WebSocket response", zap.Error(err))
			break
		}
	}
}

func (h *WebSocketHandler) analyze(c *websocket.Conn, text string) error {
	if err := h.sendStatus(c, "Analyzing entry..."); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsAnalyzeTimeout)
	defer cancel()

	result, err := h.service.Analyze(ctx, text)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrValidation):
			return h.sendError(c, "Text is too short")
		case errors.Is(err, gateway.ErrUpstream):
			logger.Error("Analysis service error", zap.Error(err))
			return h.sendError(c, "Analysis service unavailable")
		default:
			logger.Error("Failed to analyze text", zap.Error(err))
			return h.sendError(c, "Server error")
		}
	}

	return h.sendResult(c, result)
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    "status",
		"content": content,
	})
}

func (h *WebSocketHandler) sendResult(c *websocket.Conn, result *routing.RoutedResult) error {
	return c.WriteJSON(map[string]interface{}{
		"type":   "result",
		"result": result,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
