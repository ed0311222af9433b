// Package reminder schedules one durable reminder job per upcoming
// appointment and fires it the day before, re-checking the appointment at
// fire time.
package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusClaimed    Status = "claimed"
	StatusFired      Status = "fired"
	StatusSuperseded Status = "superseded"
)

// Live reports whether a job in this status may still fire.
func (s Status) Live() bool {
	return s == StatusScheduled || s == StatusClaimed
}

// Job is the reminder for one appointment. Jobs are keyed by appointment id,
// so scheduling again replaces the previous job.
type Job struct {
	AppointmentID uuid.UUID `json:"appointmentId"`
	FireAt        time.Time `json:"fireAt"`
	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// JobStore persists reminder jobs. Implementations must make ClaimDue safe
// for concurrent sweepers: a job is handed to one claimer until its lease
// expires.
type JobStore interface {
	// Upsert inserts job as scheduled or replaces the existing job for the
	// same appointment, resetting its status and attempts.
	Upsert(ctx context.Context, job *Job) error
	// Supersede flips a live job to superseded and reports whether one existed.
	Supersede(ctx context.Context, appointmentID uuid.UUID, now time.Time) (bool, error)
	Get(ctx context.Context, appointmentID uuid.UUID) (*Job, error)
	// ClaimDue claims up to limit scheduled jobs due at now, plus claimed
	// jobs whose lease started more than lease ago.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Job, error)
	// Settle moves a claimed job to a final status. It is a no-op when the
	// job was replaced or superseded after it was claimed.
	Settle(ctx context.Context, appointmentID uuid.UUID, fireAt time.Time, status Status, now time.Time) (bool, error)
}

// FireTime returns when the reminder for an appointment on date should fire:
// the day before, at hour:00 in loc. It reports false when no reminder is due,
// because the appointment is less than a day away or the fire time has
// already passed.
func FireTime(date, now time.Time, loc *time.Location, hour int) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	if !date.After(now) || date.Sub(now) < 24*time.Hour {
		return time.Time{}, false
	}
	prev := date.In(loc).AddDate(0, 0, -1)
	fireAt := time.Date(prev.Year(), prev.Month(), prev.Day(), hour, 0, 0, 0, loc)
	if !fireAt.After(now) {
		return time.Time{}, false
	}
	return fireAt, true
}
