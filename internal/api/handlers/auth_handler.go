package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/auth"
	authmw "github.com/virtual-therapist/backend/internal/middleware/auth"
	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/pkg/logger"
)

type AuthService interface {
	Register(name, email, password string) (string, *models.User, error)
	Login(email, password string) (string, *models.User, error)
	User(id string) (*models.User, error)
}

type AuthHandler struct {
	service AuthService
}

func NewAuthHandler(service AuthService) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

type credentials struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	token, user, err := h.service.Register(req.Name, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			return errorJSON(c, fiber.StatusBadRequest, "Name, a valid email and a password of at least 6 characters are required")
		case errors.Is(err, auth.ErrEmailTaken):
			return errorJSON(c, fiber.StatusConflict, "Email already registered")
		default:
			logger.Error("Failed to register user", zap.Error(err))
			return errorJSON(c, fiber.StatusInternalServerError, "Server error")
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req credentials
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if req.Email == "" || req.Password == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Email and password are required")
	}

	token, user, err := h.service.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return errorJSON(c, fiber.StatusUnauthorized, "Invalid email or password")
		}
		logger.Error("Failed to log in", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Server error")
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user":  user,
	})
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user, err := h.service.User(authmw.UserID(c))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			return errorJSON(c, fiber.StatusUnauthorized, "Invalid or expired token")
		}
		logger.Error("Failed to load current user", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Server error")
	}

	return c.JSON(fiber.Map{
		"user": user,
	})
}
