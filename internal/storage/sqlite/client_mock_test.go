package sqlite

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtual-therapist/backend/internal/storage/models"
)

var (
	mockClient *Client
	mock       sqlmock.Sqlmock
)

func setUp() {
	var db *sql.DB
	db, mock, _ = sqlmock.New()
	mockClient = NewClientFromDB(db)
}

func tearDown() {
	mockClient.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func TestGetPatientQueryError(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT id, name, created_by, created_at FROM patients WHERE id = (.+) AND created_by = (.+)").
			WithArgs("p1", "owner").
			WillReturnError(errors.New("disk I/O error"))

		_, err := mockClient.GetPatient("owner", "p1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeletePatientNoRows(t *testing.T) {
	it(func() {
		mock.ExpectExec("DELETE FROM patients WHERE id = (.+) AND created_by = (.+)").
			WithArgs("p1", "owner").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, mockClient.DeletePatient("owner", "p1"), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPrependHistoryExecError(t *testing.T) {
	it(func() {
		mock.ExpectExec("INSERT INTO history_entries").
			WillReturnError(errors.New("database is locked"))

		err := mockClient.PrependHistory("owner", "p1", &models.HistoryEntry{
			ID:               "e1",
			Text:             "some text",
			TopPattern:       "Anxiety",
			ConfidenceScores: []models.ScoreEntry{{Label: "Anxiety", Score: 0.5}},
			CreatedAt:        time.Now(),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database is locked")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetHistoryBadScores(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT id, name, created_by, created_at FROM patients").
			WithArgs("p1", "owner").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "created_by", "created_at"}).
				AddRow("p1", "name", "owner", time.Now().UnixMilli()))
		mock.ExpectQuery("SELECT id, text, top_pattern, confidence_scores, created_at").
			WithArgs("p1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "text", "top_pattern", "confidence_scores", "created_at"}).
				AddRow("e1", "text", "Anxiety", "not-json", time.Now().UnixMilli()))

		_, err := mockClient.GetPatient("owner", "p1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode confidence scores")
	})
}
