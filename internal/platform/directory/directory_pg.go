package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG resolves directory records from the shared clinic tables.
type PG struct{ pool *pgxpool.Pool }

func NewPG(pool *pgxpool.Pool) *PG { return &PG{pool: pool} }

func (d *PG) ResolveUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", id, err)
	}
	return &User{ID: id, Exists: exists}, nil
}

func (d *PG) ResolveAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a := &Appointment{ID: id}
	err := d.pool.QueryRow(ctx,
		`SELECT date, status, patient_id FROM appointments WHERE id = $1`, id,
	).Scan(&a.Date, &a.Status, &a.PatientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve appointment %s: %w", id, err)
	}
	a.Exists = true
	return a, nil
}

func (d *PG) ResolveTreatment(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	t := &Treatment{ID: id}
	err := d.pool.QueryRow(ctx,
		`SELECT patient_id FROM treatment_plans WHERE id = $1`, id,
	).Scan(&t.PatientID)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve treatment %s: %w", id, err)
	}
	t.Exists = true
	return t, nil
}
