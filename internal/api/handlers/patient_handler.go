package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/gateway"
	"github.com/virtual-therapist/backend/internal/middleware/auth"
	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/internal/storage/sqlite"
	"github.com/virtual-therapist/backend/pkg/logger"
)

type PatientStore interface {
	CreatePatient(patient *models.Patient) error
	ListPatients(ownerID string) ([]models.Patient, error)
	GetPatient(ownerID, id string) (*models.Patient, error)
	DeletePatient(ownerID, id string) error
}

// PatientHandler serves the practitioner endpoints. Every route expects the
// auth middleware to have stored the caller's user id.
type PatientHandler struct {
	store    PatientStore
	analysis AnalysisService
}

func NewPatientHandler(store PatientStore, analysis AnalysisService) *PatientHandler {
	return &PatientHandler{
		store:    store,
		analysis: analysis,
	}
}

func (h *PatientHandler) CreatePatient(c *fiber.Ctx) error {
	var req struct {
		Name string `json:"name"`
	}

	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
		}
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return errorJSON(c, fiber.StatusBadRequest, "Name is required")
	}

	patient := &models.Patient{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedBy: auth.UserID(c),
		History:   []models.HistoryEntry{},
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.CreatePatient(patient); err != nil {
		logger.Error("Failed to create patient", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Server error")
	}

	return c.Status(fiber.StatusCreated).JSON(patient)
}

func (h *PatientHandler) ListPatients(c *fiber.Ctx) error {
	patients, err := h.store.ListPatients(auth.UserID(c))
	if err != nil {
		logger.Error("Failed to list patients", zap.Error(err))
		return errorJSON(c, fiber.StatusInternalServerError, "Server error")
	}

	if patients == nil {
		patients = []models.Patient{}
	}
	return c.JSON(patients)
}

func (h *PatientHandler) GetPatient(c *fiber.Ctx) error {
	patient, err := h.store.GetPatient(auth.UserID(c), c.Params("id"))
	if err != nil {
		return h.storeError(c, err, "Failed to get patient")
	}

	return c.JSON(patient)
}

func (h *PatientHandler) DeletePatient(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.store.DeletePatient(auth.UserID(c), id); err != nil {
		return h.storeError(c, err, "Failed to delete patient")
	}

	return c.JSON(fiber.Map{
		"message": "Patient deleted",
		"id":      id,
	})
}

// AnalyzePatient analyzes a journal entry for one patient and records it in
// the patient's history. Unlike the public endpoint the result is not routed.
func (h *PatientHandler) AnalyzePatient(c *fiber.Ctx) error {
	text, ok := parseText(c)
	if !ok {
		return errorJSON(c, fiber.StatusBadRequest, "Invalid request body")
	}

	patientID := c.Params("id")

	entry, err := h.analysis.AnalyzeForPatient(c.UserContext(), auth.UserID(c), patientID, text)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrValidation):
			return errorJSON(c, fiber.StatusBadRequest, "Text is too short")
		case errors.Is(err, gateway.ErrNotFound):
			return errorJSON(c, fiber.StatusNotFound, "Patient not found")
		case errors.Is(err, gateway.ErrUpstream):
			logger.Error("Analysis service error", zap.String("patient_id", patientID), zap.Error(err))
			return errorJSON(c, fiber.StatusBadGateway, "Analysis service failed")
		default:
			logger.Error("Failed to analyze patient entry", zap.String("patient_id", patientID), zap.Error(err))
			return errorJSON(c, fiber.StatusInternalServerError, "Server error")
		}
	}

	return c.JSON(fiber.Map{
		"patientId": patientID,
		"entry":     entry,
	})
}

func (h *PatientHandler) storeError(c *fiber.Ctx, err error, msg string) error {
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorJSON(c, fiber.StatusNotFound, "Patient not found")
	}

	logger.Error(msg, zap.String("patient_id", c.Params("id")), zap.Error(err))
	return errorJSON(c, fiber.StatusInternalServerError, "Server error")
}
