package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/analysis"
	"github.com/virtual-therapist/backend/internal/metrics"
	"github.com/virtual-therapist/backend/internal/routing"
	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/internal/storage/sqlite"
	"github.com/virtual-therapist/backend/pkg/logger"
)

// MinTextLength is the shortest trimmed journal entry, in characters, accepted for analysis.
const MinTextLength = 5

var (
	ErrValidation = errors.New("text is too short")
	ErrNotFound   = errors.New("patient not found")
	ErrUpstream   = errors.New("analysis service failed")
)

type Analyzer interface {
	Analyze(ctx context.Context, text string) (*models.AnalysisResult, error)
}

type Router interface {
	Route(ctx context.Context, topPattern string, scores []models.ScoreEntry, text string) routing.RoutedResult
}

type PatientStore interface {
	GetPatient(ownerID, id string) (*models.Patient, error)
	PrependHistory(ownerID, patientID string, entry *models.HistoryEntry) error
}

// ResultCache stores classifier output keyed by the submitted text.
type ResultCache interface {
	GetAnalysis(ctx context.Context, text string) (*models.AnalysisResult, bool, error)
	SetAnalysis(ctx context.Context, text string, result *models.AnalysisResult) error
}

type Service struct {
	analyzer Analyzer
	router   Router
	store    PatientStore
	cache    ResultCache
	now      func() time.Time
}

type Option func(*Service)

// WithCache puts a result cache in front of the analysis service.
func WithCache(cache ResultCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(analyzer Analyzer, router Router, store PatientStore, opts ...Option) *Service {
	s := &Service{
		analyzer: analyzer,
		router:   router,
		store:    store,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ValidateText(text string) error {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinTextLength {
		return ErrValidation
	}
	return nil
}

// Analyze classifies text and routes the result by confidence.
func (s *Service) Analyze(ctx context.Context, text string) (*routing.RoutedResult, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	result, err := s.classify(ctx, text)
	if err != nil {
		return nil, err
	}

	routed := s.router.Route(ctx, result.TopPattern, result.ConfidenceScores, text)
	return &routed, nil
}

// AnalyzeForPatient classifies text for one of ownerID's patients and records
// the raw classifier output at the head of the patient's history. The result
// is not routed.
func (s *Service) AnalyzeForPatient(ctx context.Context, ownerID, patientID, text string) (*models.HistoryEntry, error) {
	if err := ValidateText(text); err != nil {
		return nil, err
	}

	if _, err := s.store.GetPatient(ownerID, patientID); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}

	result, err := s.classify(ctx, text)
	if err != nil {
		return nil, err
	}

	entry := &models.HistoryEntry{
		ID:               uuid.New().String(),
		Text:             text,
		TopPattern:       result.TopPattern,
		ConfidenceScores: result.ConfidenceScores,
		CreatedAt:        s.now().UTC(),
	}

	if err := s.store.PrependHistory(ownerID, patientID, entry); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to record history entry: %w", err)
	}

	metrics.HistoryEntriesRecorded.Inc()
	logger.Info("History entry recorded",
		zap.String("patient_id", patientID),
		zap.String("entry_id", entry.ID),
		zap.String("top_pattern", entry.TopPattern),
	)

	return entry, nil
}

func (s *Service) classify(ctx context.Context, text string) (*models.AnalysisResult, error) {
	if s.cache != nil {
		cached, found, err := s.cache.GetAnalysis(ctx, text)
		if err != nil {
			logger.Warn("Analysis cache lookup failed", zap.Error(err))
		} else if found {
			return cached, nil
		}
	}

	result, err := s.analyzer.Analyze(ctx, text)
	if err != nil {
		if errors.Is(err, analysis.ErrUpstreamUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		return nil, fmt.Errorf("failed to analyze text: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetAnalysis(ctx, text, result); err != nil {
			logger.Warn("Failed to cache analysis result", zap.Error(err))
		}
	}

	return result, nil
}
