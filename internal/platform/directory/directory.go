// Package directory resolves users, appointments and treatments owned by the
// clinic API. The notification service only reads these records.
package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentStatusCancelled marks an appointment that must not be reminded.
const AppointmentStatusCancelled = "cancelled"

// User is the result of a user lookup. Exists is false for unknown ids.
type User struct {
	ID     uuid.UUID `json:"id"`
	Exists bool      `json:"exists"`
}

// Appointment is the subset of an appointment the reminder scheduler needs.
type Appointment struct {
	ID        uuid.UUID `json:"id"`
	Date      time.Time `json:"date"`
	Status    string    `json:"status"`
	PatientID uuid.UUID `json:"patient_id"`
	Exists    bool      `json:"exists"`
}

// Cancelled reports whether the appointment has been cancelled.
func (a *Appointment) Cancelled() bool {
	return a.Status == AppointmentStatusCancelled
}

// Treatment is the subset of a treatment plan needed to notify its patient.
type Treatment struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	Exists    bool      `json:"exists"`
}

// UserResolver looks up users. A missing user is reported through
// User.Exists, not an error; errors mean the data layer failed.
type UserResolver interface {
	ResolveUser(ctx context.Context, id uuid.UUID) (*User, error)
}

// AppointmentResolver looks up appointments.
type AppointmentResolver interface {
	ResolveAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
}

// TreatmentResolver looks up treatment plans.
type TreatmentResolver interface {
	ResolveTreatment(ctx context.Context, id uuid.UUID) (*Treatment, error)
}
