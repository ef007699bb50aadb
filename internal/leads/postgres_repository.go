package leads

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const leadColumns = `id, session_id, visitor_id, email, phone, message, page_context,
	urgency, fit, readiness, score, alerted, created_at, updated_at`

// PostgresRepository stores leads in the relational database.
type PostgresRepository struct {
	db rowQuerier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithQuerier(db rowQuerier) *PostgresRepository {
	if db == nil {
		panic("leads: querier required")
	}
	return &PostgresRepository{db: db}
}

// Upsert inserts the session's lead or merges into the existing row.
func (r *PostgresRepository) Upsert(ctx context.Context, req *CaptureRequest) (*Lead, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO leads (id, session_id, visitor_id, email, phone, message, page_context, urgency, fit, readiness, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO UPDATE SET
			visitor_id   = EXCLUDED.visitor_id,
			email        = COALESCE(NULLIF(EXCLUDED.email, ''), leads.email),
			phone        = COALESCE(NULLIF(EXCLUDED.phone, ''), leads.phone),
			page_context = COALESCE(NULLIF(EXCLUDED.page_context, ''), leads.page_context),
			urgency      = CASE WHEN EXCLUDED.score >= leads.score THEN EXCLUDED.urgency ELSE leads.urgency END,
			fit          = CASE WHEN EXCLUDED.score >= leads.score THEN EXCLUDED.fit ELSE leads.fit END,
			readiness    = CASE WHEN EXCLUDED.score >= leads.score THEN EXCLUDED.readiness ELSE leads.readiness END,
			score        = GREATEST(EXCLUDED.score, leads.score),
			updated_at   = now()
		RETURNING ` + leadColumns

	row := r.db.QueryRow(ctx, query,
		uuid.New().String(),
		req.SessionID,
		req.VisitorID,
		req.Email,
		req.Phone,
		req.Message,
		req.PageContext,
		req.Score.Urgency,
		req.Score.Fit,
		req.Score.Readiness,
		req.Score.Total,
	)
	lead, err := scanLead(row)
	if err != nil {
		return nil, fmt.Errorf("leads: upsert failed: %w", err)
	}
	return lead, nil
}

// GetBySession fetches the lead captured in a session.
func (r *PostgresRepository) GetBySession(ctx context.Context, sessionID string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE session_id = $1`
	lead, err := scanLead(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	return lead, nil
}

// List returns leads ordered by score, highest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListLeadsFilter) ([]*Lead, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + leadColumns + ` FROM leads
		WHERE score >= $1
		ORDER BY score DESC, updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, filter.MinScore, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	defer rows.Close()

	out := []*Lead{}
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("leads: scan failed: %w", err)
		}
		out = append(out, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leads: list failed: %w", err)
	}
	return out, nil
}

// MarkAlerted records that the hot-lead alert went out.
func (r *PostgresRepository) MarkAlerted(ctx context.Context, id string) error {
	ct, err := r.db.Exec(ctx, `UPDATE leads SET alerted = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("leads: mark alerted: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrLeadNotFound
	}
	return nil
}

func scanLead(row pgx.Row) (*Lead, error) {
	var l Lead
	if err := row.Scan(
		&l.ID,
		&l.SessionID,
		&l.VisitorID,
		&l.Email,
		&l.Phone,
		&l.Message,
		&l.PageContext,
		&l.Urgency,
		&l.Fit,
		&l.Readiness,
		&l.Score,
		&l.Alerted,
		&l.CreatedAt,
		&l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &l, nil
}
