package reminder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/notify/internal/domain/notification"
	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/directory"
)

// Appointment lifecycle actions reported by the clinic API.
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionCancelled = "cancelled"
)

// EventResult is what handling one domain event produced.
type EventResult struct {
	Notification *notification.Notification `json:"notification"`
	Reminder     *Job                       `json:"reminder"`
}

// Events turns appointment and treatment changes into patient notifications
// and keeps each appointment's reminder in step with it.
type Events struct {
	scheduler    *Scheduler
	notifier     Notifier
	appointments directory.AppointmentResolver
	treatments   directory.TreatmentResolver
	logger       zerolog.Logger
}

func NewEvents(scheduler *Scheduler, notifier Notifier, appointments directory.AppointmentResolver, treatments directory.TreatmentResolver, logger zerolog.Logger) *Events {
	return &Events{
		scheduler:    scheduler,
		notifier:     notifier,
		appointments: appointments,
		treatments:   treatments,
		logger:       logger.With().Str("component", "events").Logger(),
	}
}

// Appointment handles a lifecycle action for an appointment.
func (e *Events) Appointment(ctx context.Context, appointmentID uuid.UUID, action string) (*EventResult, error) {
	switch action {
	case ActionCreated, ActionUpdated, ActionCancelled:
	default:
		return nil, apperr.Validation("unknown appointment action %q", action)
	}

	appt, err := e.appointments.ResolveAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("resolve appointment: %w", err)
	}
	if !appt.Exists {
		return nil, apperr.NotFound("appointment")
	}
	if action == ActionUpdated && appt.Cancelled() {
		action = ActionCancelled
	}

	res := &EventResult{}
	var templateID string
	switch action {
	case ActionCreated:
		templateID = notification.TemplateAppointmentCreated
		res.Reminder, err = e.scheduler.Schedule(ctx, appointmentID)
	case ActionUpdated:
		prev := e.liveJob(ctx, appointmentID)
		res.Reminder, err = e.scheduler.Reschedule(ctx, appointmentID)
		templateID = notification.TemplateAppointmentUpdated
		if moved(prev, res.Reminder) {
			templateID = notification.TemplateAppointmentRescheduled
		}
	case ActionCancelled:
		templateID = notification.TemplateAppointmentCancelled
		_, err = e.scheduler.Cancel(ctx, appointmentID)
	}
	if err != nil {
		return nil, err
	}

	local := appt.Date.In(e.scheduler.loc)
	res.Notification, err = e.notifier.CreateFromTemplate(ctx, appt.PatientID, templateID, map[string]string{
		"date": local.Format("2006-01-02"),
		"time": local.Format("15:04"),
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("appointment_id", appointmentID.String()).
		Str("action", action).
		Bool("reminder", res.Reminder != nil).
		Msg("appointment event handled")
	return res, nil
}

// liveJob returns the appointment's reminder if it may still fire, or nil.
func (e *Events) liveJob(ctx context.Context, appointmentID uuid.UUID) *Job {
	job, err := e.scheduler.Job(ctx, appointmentID)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			e.logger.Warn().Err(err).Str("appointment_id", appointmentID.String()).Msg("reminder lookup failed")
		}
		return nil
	}
	if !job.Status.Live() {
		return nil
	}
	return job
}

// moved reports whether rescheduling changed the reminder day. With no
// earlier reminder to compare against the change is treated as an update.
func moved(prev, next *Job) bool {
	if prev == nil {
		return false
	}
	return next == nil || !prev.FireAt.Equal(next.FireAt)
}

// Treatment notifies a treatment plan's patient that the plan changed.
func (e *Events) Treatment(ctx context.Context, treatmentID uuid.UUID) (*EventResult, error) {
	t, err := e.treatments.ResolveTreatment(ctx, treatmentID)
	if err != nil {
		return nil, fmt.Errorf("resolve treatment: %w", err)
	}
	if !t.Exists {
		return nil, apperr.NotFound("treatment")
	}
	n, err := e.notifier.CreateFromTemplate(ctx, t.PatientID, notification.TemplateTreatmentUpdated, nil)
	if err != nil {
		return nil, err
	}
	return &EventResult{Notification: n}, nil
}
