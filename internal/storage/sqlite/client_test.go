package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtual-therapist/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())

	t.Cleanup(func() { client.Close() })
	return client
}

func createUser(t *testing.T, c *Client, email string) *models.User {
	t.Helper()

	user := &models.User{
		ID:           uuid.NewString(),
		Name:         "Dr. Test",
		Email:        email,
		PasswordHash: "hash",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, c.CreateUser(user))
	return user
}

func createPatient(t *testing.T, c *Client, ownerID, name string, createdAt time.Time) *models.Patient {
	t.Helper()

	patient := &models.Patient{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: ownerID,
		CreatedAt: createdAt,
	}
	require.NoError(t, c.CreatePatient(patient))
	return patient
}

func TestUsers(t *testing.T) {
	c := newTestClient(t)
	user := createUser(t, c, "doc@example.com")

	got, err := c.GetUserByEmail("doc@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.Equal(t, "hash", got.PasswordHash)

	got, err = c.GetUserByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc@example.com", got.Email)

	_, err = c.GetUserByEmail("missing@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	dup := &models.User{ID: uuid.NewString(), Name: "x", Email: "doc@example.com", PasswordHash: "h", CreatedAt: time.Now()}
	assert.ErrorIs(t, c.CreateUser(dup), ErrDuplicate)
}

func TestListPatientsNewestFirstAndOwnerScoped(t *testing.T) {
	c := newTestClient(t)
	alice := createUser(t, c, "alice@example.com")
	bob := createUser(t, c, "bob@example.com")

	base := time.Now().Add(-time.Hour)
	createPatient(t, c, alice.ID, "first", base)
	createPatient(t, c, alice.ID, "second", base.Add(time.Minute))
	createPatient(t, c, bob.ID, "bobs", base)

	list, err := c.ListPatients(alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].Name)
	assert.Equal(t, "first", list[1].Name)
	assert.NotNil(t, list[0].History)

	list, err = c.ListPatients(bob.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bobs", list[0].Name)
}

func TestGetAndDeletePatientRequireOwnership(t *testing.T) {
	c := newTestClient(t)
	alice := createUser(t, c, "alice@example.com")
	bob := createUser(t, c, "bob@example.com")
	patient := createPatient(t, c, alice.ID, "p", time.Now())

	_, err := c.GetPatient(bob.ID, patient.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, c.DeletePatient(bob.ID, patient.ID), ErrNotFound)

	got, err := c.GetPatient(alice.ID, patient.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.CreatedBy)

	require.NoError(t, c.DeletePatient(alice.ID, patient.ID))
	_, err = c.GetPatient(alice.ID, patient.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmptyOwnerRejected(t *testing.T) {
	c := newTestClient(t)

	_, err := c.ListPatients("")
	assert.ErrorIs(t, err, ErrMissingOwner)
	_, err = c.GetPatient("", "id")
	assert.ErrorIs(t, err, ErrMissingOwner)
	assert.ErrorIs(t, c.DeletePatient("", "id"), ErrMissingOwner)
	assert.ErrorIs(t, c.CreatePatient(&models.Patient{ID: "id", Name: "n"}), ErrMissingOwner)
	assert.ErrorIs(t, c.PrependHistory("", "id", &models.HistoryEntry{}), ErrMissingOwner)
}

func TestPrependHistory(t *testing.T) {
	c := newTestClient(t)
	alice := createUser(t, c, "alice@example.com")
	bob := createUser(t, c, "bob@example.com")
	patient := createPatient(t, c, alice.ID, "p", time.Now())

	now := time.Now()
	older := &models.HistoryEntry{
		ID:               uuid.NewString(),
		Text:             "first entry text",
		TopPattern:       "Anxiety",
		ConfidenceScores: []models.ScoreEntry{{Label: "Anxiety", Score: 0.7}},
		CreatedAt:        now,
	}
	newer := &models.HistoryEntry{
		ID:               uuid.NewString(),
		Text:             "second entry text",
		TopPattern:       "Depression",
		ConfidenceScores: []models.ScoreEntry{{Label: "Depression", Score: 0.91}},
		CreatedAt:        now,
	}

	require.NoError(t, c.PrependHistory(alice.ID, patient.ID, older))
	require.NoError(t, c.PrependHistory(alice.ID, patient.ID, newer))

	assert.ErrorIs(t, c.PrependHistory(bob.ID, patient.ID, &models.HistoryEntry{
		ID:        uuid.NewString(),
		Text:      "intruder",
		CreatedAt: now,
	}), ErrNotFound)

	got, err := c.GetPatient(alice.ID, patient.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 2)
	assert.Equal(t, "Depression", got.History[0].TopPattern)
	assert.Equal(t, "Anxiety", got.History[1].TopPattern)
	assert.InDelta(t, 0.91, got.History[0].ConfidenceScores[0].Score, 1e-9)
	assert.Equal(t, now.UnixMilli(), got.History[0].CreatedAt.UnixMilli())
}

func TestHistoryKeepsInsertionOrderWhenClockGoesBackwards(t *testing.T) {
	c := newTestClient(t)
	alice := createUser(t, c, "alice@example.com")
	patient := createPatient(t, c, alice.ID, "p", time.Now())

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, c.PrependHistory(alice.ID, patient.ID, &models.HistoryEntry{
			ID:               uuid.NewString(),
			Text:             text,
			ConfidenceScores: []models.ScoreEntry{},
			CreatedAt:        start.Add(-time.Duration(i) * time.Hour),
		}))
	}

	got, err := c.GetPatient(alice.ID, patient.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 3)
	assert.Equal(t, "third", got.History[0].Text)
	assert.Equal(t, "second", got.History[1].Text)
	assert.Equal(t, "first", got.History[2].Text)
}

func TestDeletePatientCascadesHistory(t *testing.T) {
	c := newTestClient(t)
	alice := createUser(t, c, "alice@example.com")
	patient := createPatient(t, c, alice.ID, "p", time.Now())

	require.NoError(t, c.PrependHistory(alice.ID, patient.ID, &models.HistoryEntry{
		ID:               uuid.NewString(),
		Text:             "entry",
		ConfidenceScores: []models.ScoreEntry{},
		CreatedAt:        time.Now(),
	}))
	require.NoError(t, c.DeletePatient(alice.ID, patient.ID))

	var count int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM history_entries WHERE patient_id = ?`, patient.ID).Scan(&count))
	assert.Zero(t, count)
}
