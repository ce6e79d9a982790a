package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/virtual-therapist/backend/internal/storage/models"
	"github.com/virtual-therapist/backend/pkg/logger"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicate    = errors.New("record already exists")
	ErrMissingOwner = errors.New("owner id is required")
)

type Client struct {
	db *sql.DB
}

func NewClient(dsn string) (*Client, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("dsn", redactDSN(dsn)))

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an already opened handle.
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_by TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_patients_owner ON patients(created_by, created_at);

	CREATE TABLE IF NOT EXISTS history_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL,
		text TEXT NOT NULL,
		top_pattern TEXT,
		confidence_scores TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (patient_id) REFERENCES patients(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_history_patient ON history_entries(patient_id, created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateUser(user *models.User) error {
	query := `INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	logger.Info("User created", zap.String("user_id", user.ID))
	return nil
}

func (c *Client) GetUserByEmail(email string) (*models.User, error) {
	return c.getUser(`SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?`, email)
}

func (c *Client) GetUserByID(id string) (*models.User, error) {
	return c.getUser(`SELECT id, name, email, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (c *Client) getUser(query string, arg string) (*models.User, error) {
	var user models.User
	var createdAt int64

	err := c.db.QueryRow(query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.CreatedAt = time.UnixMilli(createdAt)
	return &user, nil
}

func (c *Client) CreatePatient(patient *models.Patient) error {
	if patient.CreatedBy == "" {
		return ErrMissingOwner
	}

	query := `INSERT INTO patients (id, name, created_by, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		patient.ID,
		patient.Name,
		patient.CreatedBy,
		patient.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}

	logger.Debug("Patient inserted",
		zap.String("patient_id", patient.ID),
		zap.String("owner_id", patient.CreatedBy),
	)
	return nil
}

// ListPatients returns the owner's patients newest first, each with its history.
func (c *Client) ListPatients(ownerID string) ([]models.Patient, error) {
	if ownerID == "" {
		return nil, ErrMissingOwner
	}

	query := `
		SELECT id, name, created_by, created_at
		FROM patients
		WHERE created_by = ?
		ORDER BY created_at DESC, rowid DESC
	`

	rows, err := c.db.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	patients := make([]models.Patient, 0)
	for rows.Next() {
		var p models.Patient
		var createdAt int64

		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		p.CreatedAt = time.UnixMilli(createdAt)
		patients = append(patients, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patients: %w", err)
	}

	for i := range patients {
		history, err := c.getHistory(patients[i].ID)
		if err != nil {
			return nil, err
		}
		patients[i].History = history
	}

	return patients, nil
}

func (c *Client) GetPatient(ownerID, id string) (*models.Patient, error) {
	if ownerID == "" {
		return nil, ErrMissingOwner
	}

	query := `SELECT id, name, created_by, created_at FROM patients WHERE id = ? AND created_by = ?`

	var p models.Patient
	var createdAt int64

	err := c.db.QueryRow(query, id, ownerID).Scan(&p.ID, &p.Name, &p.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	p.CreatedAt = time.UnixMilli(createdAt)

	history, err := c.getHistory(p.ID)
	if err != nil {
		return nil, err
	}
	p.History = history

	return &p, nil
}

func (c *Client) DeletePatient(ownerID, id string) error {
	if ownerID == "" {
		return ErrMissingOwner
	}

	result, err := c.db.Exec(`DELETE FROM patients WHERE id = ? AND created_by = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	logger.Info("Patient deleted", zap.String("patient_id", id), zap.String("owner_id", ownerID))
	return nil
}

// PrependHistory records entry as the newest item of the patient's history.
// The insert only succeeds when the patient belongs to ownerID.
func (c *Client) PrependHistory(ownerID, patientID string, entry *models.HistoryEntry) error {
	if ownerID == "" {
		return ErrMissingOwner
	}

	scores, err := json.Marshal(entry.ConfidenceScores)
	if err != nil {
		return fmt.Errorf("failed to marshal confidence scores: %w", err)
	}

	query := `
		INSERT INTO history_entries (id, patient_id, text, top_pattern, confidence_scores, created_at)
		SELECT ?, p.id, ?, ?, ?, ?
		FROM patients p
		WHERE p.id = ? AND p.created_by = ?
	`

	result, err := c.db.Exec(
		query,
		entry.ID,
		entry.Text,
		entry.TopPattern,
		string(scores),
		entry.CreatedAt.UnixMilli(),
		patientID,
		ownerID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	logger.Debug("History entry recorded",
		zap.String("patient_id", patientID),
		zap.String("top_pattern", entry.TopPattern),
	)
	return nil
}

func (c *Client) getHistory(patientID string) ([]models.HistoryEntry, error) {
	query := `
		SELECT id, text, top_pattern, confidence_scores, created_at
		FROM history_entries
		WHERE patient_id = ?
		ORDER BY seq DESC
	`

	rows, err := c.db.Query(query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	history := make([]models.HistoryEntry, 0)
	for rows.Next() {
		var e models.HistoryEntry
		var topPattern sql.NullString
		var scoresJSON string
		var createdAt int64

		if err := rows.Scan(&e.ID, &e.Text, &topPattern, &scoresJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(scoresJSON), &e.ConfidenceScores); err != nil {
			return nil, fmt.Errorf("failed to decode confidence scores: %w", err)
		}
		e.TopPattern = topPattern.String
		e.CreatedAt = time.UnixMilli(createdAt)
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}

	return history, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// withForeignKeys makes every pooled connection enforce foreign keys, not only the first.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "?"); i >= 0 {
		return dsn[:i]
	}
	return dsn
}
