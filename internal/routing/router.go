// Package routing decides, from the classifier's confidence in its top
// pattern, whether a result is returned as is, softened with a supportive
// generated message, or answered generally by the generative model.
package routing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/metrics"
	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/pkg/logger"
)

// Policy thresholds. They are fixed and cannot be overridden per request.
const (
	HighConfidence = 0.85
	MidConfidence  = 0.65
)

// NonePattern replaces the top pattern once a generated response supersedes the classification.
const NonePattern = "None"

// Disclaimer prefixes every low-confidence generated answer.
const Disclaimer = "Note: your entry did not clearly match any pattern our model recognizes, " +
	"so the following is general guidance rather than an analysis. " +
	"It is not a diagnosis; if you are struggling, please reach out to a mental health professional.\n\n"

const generalSystemPrompt = "You are a warm, supportive general wellbeing assistant. " +
	"The user has written a personal journal entry. Respond briefly and kindly in plain language, " +
	"offer one or two practical suggestions, and never diagnose or mention specific disorders. " +
	"If the entry suggests the user may be in danger, encourage them to contact local emergency services."

type Source string

const (
	SourceModel         Source = "model"
	SourceModelGroq     Source = "model+groq"
	SourceGroq          Source = "groq"
	SourceModelFallback Source = "model_fallback"
)

// Band names the confidence range a score falls into.
type Band string

const (
	BandHigh Band = "high"
	BandMid  Band = "mid"
	BandLow  Band = "low"
)

// Generator produces a completion, reporting ok=false instead of an error on failure.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, bool)
}

type RoutedResult struct {
	TopPattern       string              `json:"topPattern"`
	ConfidenceScores []models.ScoreEntry `json:"confidenceScores"`
	Source           Source              `json:"source"`
	AIResponse       string              `json:"ai_response,omitempty"`
}

type Router struct {
	generator Generator
}

func NewRouter(generator Generator) *Router {
	return &Router{generator: generator}
}

// TopScore returns the score recorded for topPattern, or 0 when the classifier
// reported the label without a matching score.
func TopScore(topPattern string, scores []models.ScoreEntry) float64 {
	for _, s := range scores {
		if s.Label == topPattern {
			return s.Score
		}
	}
	return 0
}

func BandFor(score float64) Band {
	switch {
	case score >= HighConfidence:
		return BandHigh
	case score >= MidConfidence:
		return BandMid
	default:
		return BandLow
	}
}

// Route never fails: when the generative call does not produce text the
// classifier's result is returned untouched with SourceModelFallback.
// The scores slice passed in is never modified.
func (r *Router) Route(ctx context.Context, topPattern string, scores []models.ScoreEntry, text string) RoutedResult {
	topScore := TopScore(topPattern, scores)
	band := BandFor(topScore)
	metrics.TopConfidence.Observe(topScore)

	result := RoutedResult{
		TopPattern:       topPattern,
		ConfidenceScores: copyScores(scores),
	}

	switch band {
	case BandHigh:
		result.Source = SourceModel

	case BandMid:
		generated, ok := r.generate(ctx, empatheticPrompt(topPattern, topScore), text)
		if !ok {
			result.Source = SourceModelFallback
			break
		}
		result = superseded(scores, generated, SourceModelGroq)

	default:
		generated, ok := r.generate(ctx, generalSystemPrompt, text)
		if !ok {
			result.Source = SourceModelFallback
			break
		}
		result = superseded(scores, Disclaimer+generated, SourceGroq)
	}

	metrics.RouteDecisions.WithLabelValues(string(band), string(result.Source)).Inc()
	logger.Debug("Analysis routed",
		zap.String("top_pattern", topPattern),
		zap.Float64("top_score", topScore),
		zap.String("band", string(band)),
		zap.String("source", string(result.Source)),
	)

	return result
}

func (r *Router) generate(ctx context.Context, systemPrompt, text string) (string, bool) {
	if r.generator == nil {
		return "", false
	}
	return r.generator.Generate(ctx, systemPrompt, text)
}

func empatheticPrompt(topPattern string, topScore float64) string {
	return fmt.Sprintf("You are an empathetic mental health support assistant. "+
		"A screening model read the user's journal entry and found possible signs of %s "+
		"(confidence %.2f), but it is not certain. Without diagnosing or naming a disorder as fact, "+
		"respond in a short, warm, supportive message that acknowledges how the user feels "+
		"and suggests one or two gentle coping steps or talking to a professional.", topPattern, topScore)
}

// superseded builds the result for a successful generation: the stale
// classification is hidden by clearing the pattern and zeroing every score.
func superseded(scores []models.ScoreEntry, response string, source Source) RoutedResult {
	zeroed := make([]models.ScoreEntry, len(scores))
	for i, s := range scores {
		zeroed[i] = models.ScoreEntry{Label: s.Label, Score: 0}
	}

	return RoutedResult{
		TopPattern:       NonePattern,
		ConfidenceScores: zeroed,
		Source:           source,
		AIResponse:       response,
	}
}

func copyScores(scores []models.ScoreEntry) []models.ScoreEntry {
	out := make([]models.ScoreEntry, len(scores))
	copy(out, scores)
	return out
}
