package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Schema creates the preference table
const Schema = `CREATE TABLE IF NOT EXISTS mfa_preference (
	subject_id    TEXT PRIMARY KEY,
	prompted_once BOOLEAN NOT NULL DEFAULT FALSE,
	opted_in      BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at    TIMESTAMPTZ NOT NULL
)`

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL preference repository
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the table when missing
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create mfa_preference table: %w", err)
	}
	return nil
}

func scanPreference(row pgx.Row) (Preference, error) {
	var p Preference
	if err := row.Scan(&p.SubjectID, &p.PromptedOnce, &p.OptedIn, &p.UpdatedAt); err != nil {
		return Preference{}, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r *PostgresRepository) Get(ctx context.Context, subjectID string) (Preference, error) {
	p, err := scanPreference(r.db.QueryRow(ctx,
		`SELECT subject_id, prompted_once, opted_in, updated_at FROM mfa_preference WHERE subject_id = $1`,
		subjectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Preference{}, ErrNotFound
	}
	if err != nil {
		slog.Error("Failed to get mfa preference", "subject_id", subjectID, "error", err)
		return Preference{}, fmt.Errorf("failed to get mfa preference: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) RecordPrompt(ctx context.Context, subjectID string, optedIn bool, at time.Time) (Preference, bool, error) {
	p, err := scanPreference(r.db.QueryRow(ctx, `
		INSERT INTO mfa_preference (subject_id, prompted_once, opted_in, updated_at)
		VALUES ($1, TRUE, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE
			SET prompted_once = TRUE, opted_in = EXCLUDED.opted_in, updated_at = EXCLUDED.updated_at
			WHERE mfa_preference.prompted_once = FALSE
		RETURNING subject_id, prompted_once, opted_in, updated_at`,
		subjectID, optedIn, at.UTC()))
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		slog.Error("Failed to record mfa prompt", "subject_id", subjectID, "error", err)
		return Preference{}, false, fmt.Errorf("failed to record mfa prompt: %w", err)
	}

	// already prompted: the conflict update was skipped
	existing, err := r.Get(ctx, subjectID)
	if err != nil {
		return Preference{}, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepository) SetOptedIn(ctx context.Context, subjectID string, optedIn bool, at time.Time) (Preference, error) {
	p, err := scanPreference(r.db.QueryRow(ctx, `
		INSERT INTO mfa_preference (subject_id, prompted_once, opted_in, updated_at)
		VALUES ($1, FALSE, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE
			SET opted_in = EXCLUDED.opted_in, updated_at = EXCLUDED.updated_at
		RETURNING subject_id, prompted_once, opted_in, updated_at`,
		subjectID, optedIn, at.UTC()))
	if err != nil {
		slog.Error("Failed to set mfa opt-in", "subject_id", subjectID, "error", err)
		return Preference{}, fmt.Errorf("failed to set mfa opt-in: %w", err)
	}
	return p, nil
}
