package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/notify/internal/domain/notification"
	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/directory"
	"github.com/ehr/notify/internal/platform/metrics"
)

const (
	DefaultHour      = 9
	DefaultBatchSize = 100
	DefaultLease     = 5 * time.Minute
	// MaxAttempts is how many claims may try to fire a job. The claim after
	// that abandons it as exhausted.
	MaxAttempts = 3
)

// Skip reasons recorded when the fire-time guard fails.
const (
	SkipMissing   = "missing"
	SkipCancelled = "cancelled"
	SkipPast      = "past"
	SkipMoved     = "moved"
	SkipExhausted = "exhausted"
)

// Notifier creates a notification from a registered template.
type Notifier interface {
	CreateFromTemplate(ctx context.Context, recipientID uuid.UUID, templateID string, data map[string]string) (*notification.Notification, error)
}

// Outcome is the result of firing one job.
type Outcome int

const (
	OutcomeFired Outcome = iota
	OutcomeSkipped
	OutcomeFailed
)

// SweepResult counts what one sweep did.
type SweepResult struct {
	Claimed int
	Fired   int
	Skipped int
	Failed  int
}

type Scheduler struct {
	store        JobStore
	appointments directory.AppointmentResolver
	notifier     Notifier
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	loc          *time.Location
	hour         int
	batchSize    int
	lease        time.Duration
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithLocation sets the zone the reminder hour is interpreted in.
func WithLocation(loc *time.Location) Option { return func(s *Scheduler) { s.loc = loc } }

func WithHour(h int) Option { return func(s *Scheduler) { s.hour = h } }

func WithBatchSize(n int) Option { return func(s *Scheduler) { s.batchSize = n } }

func WithLease(d time.Duration) Option { return func(s *Scheduler) { s.lease = d } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l.With().Str("component", "reminder").Logger() }
}

func NewScheduler(store JobStore, appointments directory.AppointmentResolver, notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		appointments: appointments,
		notifier:     notifier,
		logger:       zerolog.Nop(),
		now:          time.Now,
		loc:          time.Local,
		hour:         DefaultHour,
		batchSize:    DefaultBatchSize,
		lease:        DefaultLease,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.lease <= 0 {
		s.lease = DefaultLease
	}
	return s
}

// Schedule registers the reminder for an appointment, replacing any previous
// job. It returns nil when no reminder applies: the appointment is cancelled,
// already past or less than a day away. Any earlier job is superseded then.
func (s *Scheduler) Schedule(ctx context.Context, appointmentID uuid.UUID) (*Job, error) {
	appt, err := s.appointments.ResolveAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("resolve appointment: %w", err)
	}
	if !appt.Exists {
		return nil, apperr.NotFound("appointment")
	}

	now := s.now()
	fireAt, ok := FireTime(appt.Date, now, s.loc, s.hour)
	if appt.Cancelled() || !ok {
		if _, err := s.store.Supersede(ctx, appointmentID, now); err != nil {
			return nil, err
		}
		s.logger.Debug().
			Str("appointment_id", appointmentID.String()).
			Time("date", appt.Date).
			Msg("no reminder for appointment")
		return nil, nil
	}

	job := &Job{
		AppointmentID: appointmentID,
		FireAt:        fireAt,
		Status:        StatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Upsert(ctx, job); err != nil {
		return nil, err
	}
	s.metrics.ReminderScheduled()
	s.logger.Info().
		Str("appointment_id", appointmentID.String()).
		Time("fire_at", fireAt).
		Msg("reminder scheduled")
	return job, nil
}

// Reschedule recomputes the reminder after an appointment's date changed.
func (s *Scheduler) Reschedule(ctx context.Context, appointmentID uuid.UUID) (*Job, error) {
	return s.Schedule(ctx, appointmentID)
}

// Cancel supersedes the appointment's live job, if any.
func (s *Scheduler) Cancel(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	ok, err := s.store.Supersede(ctx, appointmentID, s.now())
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Info().Str("appointment_id", appointmentID.String()).Msg("reminder cancelled")
	}
	return ok, nil
}

// Fire runs the fire-time guard for a claimed job and, if the appointment is
// still live and upcoming, notifies its patient. Failures are logged and
// never retried.
func (s *Scheduler) Fire(ctx context.Context, job *Job) Outcome {
	log := s.logger.With().Str("appointment_id", job.AppointmentID.String()).Logger()

	if job.Attempts > MaxAttempts {
		log.Error().Int("attempts", job.Attempts).Msg("reminder abandoned after repeated claims")
		return s.skip(ctx, job, SkipExhausted)
	}

	appt, err := s.appointments.ResolveAppointment(ctx, job.AppointmentID)
	if err != nil {
		log.Error().Err(err).Msg("reminder lookup failed")
		return s.fail(ctx, job)
	}

	now := s.now()
	switch {
	case !appt.Exists:
		return s.skip(ctx, job, SkipMissing)
	case appt.Cancelled():
		return s.skip(ctx, job, SkipCancelled)
	case !appt.Date.After(now):
		return s.skip(ctx, job, SkipPast)
	}
	if fresh, ok := FireTime(appt.Date, now, s.loc, s.hour); ok {
		// The appointment moved later without a reschedule; wait for the new time.
		if err := s.store.Upsert(ctx, &Job{AppointmentID: job.AppointmentID, FireAt: fresh, UpdatedAt: now}); err != nil {
			log.Error().Err(err).Msg("reminder reschedule failed")
		}
		s.metrics.ReminderSkipped(SkipMoved)
		log.Info().Str("reason", SkipMoved).Time("fire_at", fresh).Msg("reminder skipped")
		return OutcomeSkipped
	}

	local := appt.Date.In(s.loc)
	_, err = s.notifier.CreateFromTemplate(ctx, appt.PatientID, notification.TemplateAppointmentReminder, map[string]string{
		"date": local.Format("2006-01-02"),
		"time": local.Format("15:04"),
	})
	if err != nil {
		log.Error().Err(err).Str("patient_id", appt.PatientID.String()).Msg("reminder notification failed")
		return s.fail(ctx, job)
	}

	s.settle(ctx, job, StatusFired)
	s.metrics.ReminderFired()
	log.Info().Str("patient_id", appt.PatientID.String()).Msg("reminder fired")
	return OutcomeFired
}

func (s *Scheduler) skip(ctx context.Context, job *Job, reason string) Outcome {
	s.settle(ctx, job, StatusSuperseded)
	s.metrics.ReminderSkipped(reason)
	s.logger.Info().
		Str("appointment_id", job.AppointmentID.String()).
		Str("reason", reason).
		Msg("reminder skipped")
	return OutcomeSkipped
}

func (s *Scheduler) fail(ctx context.Context, job *Job) Outcome {
	s.settle(ctx, job, StatusSuperseded)
	s.metrics.ReminderFailed()
	return OutcomeFailed
}

func (s *Scheduler) settle(ctx context.Context, job *Job, status Status) {
	if _, err := s.store.Settle(ctx, job.AppointmentID, job.FireAt, status, s.now()); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", job.AppointmentID.String()).
			Str("status", string(status)).
			Msg("failed to settle reminder job")
	}
}

// Sweep claims the jobs due now and fires each of them.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	jobs, err := s.store.ClaimDue(ctx, s.now(), s.lease, s.batchSize)
	if err != nil {
		return SweepResult{}, err
	}
	res := SweepResult{Claimed: len(jobs)}
	for _, job := range jobs {
		switch s.Fire(ctx, job) {
		case OutcomeFired:
			res.Fired++
		case OutcomeSkipped:
			res.Skipped++
		case OutcomeFailed:
			res.Failed++
		}
	}
	if res.Claimed > 0 {
		s.logger.Debug().
			Int("claimed", res.Claimed).
			Int("fired", res.Fired).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Msg("reminder sweep finished")
	}
	return res, nil
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	s.sweepLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepLogged(ctx)
		}
	}
}

func (s *Scheduler) sweepLogged(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("reminder sweep failed")
	}
}

// Job returns the current reminder job for an appointment.
func (s *Scheduler) Job(ctx context.Context, appointmentID uuid.UUID) (*Job, error) {
	return s.store.Get(ctx, appointmentID)
}
