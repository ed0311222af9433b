package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/notify/internal/platform/apperr"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ db queryable }

func NewStorePG(pool *pgxpool.Pool) JobStore { return &storePG{db: pool} }

const jobCols = `appointment_id, fire_at, status, attempts, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.AppointmentID, &j.FireAt, &j.Status, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("reminder job")
	}
	return &j, err
}

func (s *storePG) Upsert(ctx context.Context, job *Job) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO reminder_jobs (appointment_id, fire_at, status, attempts, created_at, updated_at)
		VALUES ($1, $2, 'scheduled', 0, $3, $3)
		ON CONFLICT (appointment_id) DO UPDATE
		SET fire_at = EXCLUDED.fire_at, status = 'scheduled', attempts = 0, updated_at = EXCLUDED.updated_at`,
		job.AppointmentID, job.FireAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert reminder job: %w", err)
	}
	return nil
}

func (s *storePG) Supersede(ctx context.Context, appointmentID uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs SET status = 'superseded', updated_at = $2
		WHERE appointment_id = $1 AND status IN ('scheduled', 'claimed')`,
		appointmentID, now)
	if err != nil {
		return false, fmt.Errorf("supersede reminder job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *storePG) Get(ctx context.Context, appointmentID uuid.UUID) (*Job, error) {
	return scanJob(s.db.QueryRow(ctx, `SELECT `+jobCols+` FROM reminder_jobs WHERE appointment_id = $1`, appointmentID))
}

func (s *storePG) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Job, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE reminder_jobs SET status = 'claimed', attempts = attempts + 1, updated_at = $1
		WHERE appointment_id IN (
			SELECT appointment_id FROM reminder_jobs
			WHERE (status = 'scheduled' AND fire_at <= $1)
			   OR (status = 'claimed' AND updated_at <= $2)
			ORDER BY fire_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobCols,
		now, now.Add(-lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim reminder jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *storePG) Settle(ctx context.Context, appointmentID uuid.UUID, fireAt time.Time, status Status, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs SET status = $3, updated_at = $4
		WHERE appointment_id = $1 AND fire_at = $2 AND status = 'claimed'`,
		appointmentID, fireAt, status, now)
	if err != nil {
		return false, fmt.Errorf("settle reminder job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
