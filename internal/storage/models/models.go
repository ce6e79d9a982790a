package models

import "time"

// ScoreEntry is one (label, confidence) pair reported by the classifier.
type ScoreEntry struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// AnalysisResult is the classifier's raw output.
type AnalysisResult struct {
	TopPattern       string       `json:"topPattern"`
	ConfidenceScores []ScoreEntry `json:"confidenceScores"`
}

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Patient struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedBy string         `json:"createdBy"`
	History   []HistoryEntry `json:"history"`
	CreatedAt time.Time      `json:"createdAt"`
}

// HistoryEntry is an immutable snapshot of one per-patient analysis.
type HistoryEntry struct {
	ID               string       `json:"id"`
	Text             string       `json:"text"`
	TopPattern       string       `json:"topPattern"`
	ConfidenceScores []ScoreEntry `json:"confidenceScores"`
	CreatedAt        time.Time    `json:"createdAt"`
}
