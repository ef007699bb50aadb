package leads

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/movement-intake/internal/scoring"
)

var leadRowColumns = []string{
	"id", "session_id", "visitor_id", "email", "phone", "message", "page_context",
	"urgency", "fit", "readiness", "score", "alerted", "created_at", "updated_at",
}

func TestPostgresUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newPostgresRepositoryWithQuerier(mock)

	mock.ExpectQuery("INSERT INTO leads").
		WithArgs(pgxmock.AnyArg(), "s1", "v1", "pat@example.com", "", "hi", "programs", 10, 5, 0, 15).
		WillReturnRows(pgxmock.NewRows(leadRowColumns).
			AddRow("lead-1", "s1", "v1", "pat@example.com", "", "hi", "programs", 10, 5, 0, 15, false, now, now))

	lead, err := repo.Upsert(context.Background(), &CaptureRequest{
		SessionID:   "s1",
		VisitorID:   "v1",
		Email:       "pat@example.com",
		Message:     "hi",
		PageContext: "programs",
		Score:       scoring.LeadScore{Urgency: 10, Fit: 5, Total: 15},
	})
	require.NoError(t, err)
	assert.Equal(t, "lead-1", lead.ID)
	assert.Equal(t, 15, lead.Score)
	assert.Equal(t, now, lead.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRejectsMissingContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = newPostgresRepositoryWithQuerier(mock).Upsert(context.Background(), &CaptureRequest{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrMissingContact)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetBySessionNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM leads WHERE session_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = newPostgresRepositoryWithQuerier(mock).GetBySession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrLeadNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("ORDER BY score DESC").
		WithArgs(20, 50, 0).
		WillReturnRows(pgxmock.NewRows(leadRowColumns).
			AddRow("a", "s1", "v1", "a@example.com", "", "m", "", 20, 20, 20, 60, true, now, now).
			AddRow("b", "s2", "v2", "", "+13125550199", "m", "home", 0, 10, 10, 20, false, now, now))

	out, err := newPostgresRepositoryWithQuerier(mock).List(context.Background(), ListLeadsFilter{MinScore: 20})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.True(t, out[0].Alerted)
	assert.Equal(t, "+13125550199", out[1].Phone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkAlerted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithQuerier(mock)
	mock.ExpectExec("UPDATE leads SET alerted").WithArgs("a").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE leads SET alerted").WithArgs("b").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.MarkAlerted(context.Background(), "a"))
	assert.ErrorIs(t, repo.MarkAlerted(context.Background(), "b"), ErrLeadNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
