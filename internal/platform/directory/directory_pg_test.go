package directory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/notify/internal/platform/db/dbtest"
)

func TestPG_Resolve(t *testing.T) {
	pool := dbtest.New(t)
	dir := NewPG(pool)
	ctx := context.Background()

	patient, appt, plan := uuid.New(), uuid.New(), uuid.New()
	date := time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC)
	for _, stmt := range []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO users (id) VALUES ($1)`, []any{patient}},
		{`INSERT INTO appointments (id, patient_id, date, status) VALUES ($1, $2, $3, $4)`, []any{appt, patient, date, AppointmentStatusCancelled}},
		{`INSERT INTO treatment_plans (id, patient_id) VALUES ($1, $2)`, []any{plan, patient}},
	} {
		if _, err := pool.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	u, err := dir.ResolveUser(ctx, patient)
	if err != nil || !u.Exists {
		t.Errorf("expected user to exist, got %+v, %v", u, err)
	}
	if u, err := dir.ResolveUser(ctx, uuid.New()); err != nil || u.Exists {
		t.Errorf("expected unknown user, got %+v, %v", u, err)
	}

	a, err := dir.ResolveAppointment(ctx, appt)
	if err != nil {
		t.Fatalf("resolve appointment: %v", err)
	}
	if !a.Exists || a.PatientID != patient || !a.Date.Equal(date) || !a.Cancelled() {
		t.Errorf("unexpected appointment %+v", a)
	}
	if a, err := dir.ResolveAppointment(ctx, uuid.New()); err != nil || a.Exists {
		t.Errorf("expected missing appointment, got %+v, %v", a, err)
	}

	tp, err := dir.ResolveTreatment(ctx, plan)
	if err != nil || !tp.Exists || tp.PatientID != patient {
		t.Errorf("unexpected treatment %+v, %v", tp, err)
	}
	if tp, err := dir.ResolveTreatment(ctx, uuid.New()); err != nil || tp.Exists {
		t.Errorf("expected missing treatment, got %+v, %v", tp, err)
	}
}
