package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/notify/internal/domain/notification"
	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/directory"
	"github.com/ehr/notify/internal/platform/directory/directorytest"
	"github.com/ehr/notify/internal/platform/metrics"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type notifyCall struct {
	recipient  uuid.UUID
	templateID string
	data       map[string]string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (f *fakeNotifier) CreateFromTemplate(_ context.Context, recipientID uuid.UUID, templateID string, data map[string]string) (*notification.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, notifyCall{recipientID, templateID, data})
	return &notification.Notification{ID: uuid.New(), RecipientID: recipientID, Kind: notification.KindAppointment}, nil
}

func (f *fakeNotifier) all() []notifyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notifyCall(nil), f.calls...)
}

type testEnv struct {
	sched    *Scheduler
	store    JobStore
	dir      *directorytest.Memory
	notifier *fakeNotifier
	clock    *fakeClock
	metrics  *metrics.Metrics
}

var start = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func setupRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    NewStoreRedis(setupRedis(t)),
		dir:      directorytest.NewMemory(),
		notifier: &fakeNotifier{},
		clock:    &fakeClock{t: start},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	env.sched = NewScheduler(env.store, env.dir, env.notifier,
		WithClock(env.clock.Now),
		WithLocation(time.UTC),
		WithHour(9),
		WithMetrics(env.metrics),
		WithLogger(zerolog.Nop()),
	)
	return env
}

func (env *testEnv) addAppointment(date time.Time) (appointmentID, patientID uuid.UUID) {
	appointmentID, patientID = uuid.New(), uuid.New()
	env.dir.PutAppointment(directory.Appointment{
		ID:        appointmentID,
		Date:      date,
		Status:    "booked",
		PatientID: patientID,
	})
	return appointmentID, patientID
}

func (env *testEnv) moveAppointment(id uuid.UUID, date time.Time, status string) {
	appt, _ := env.dir.ResolveAppointment(context.Background(), id)
	appt.Date = date
	appt.Status = status
	env.dir.PutAppointment(*appt)
}

// ==========================
// FireTime
// ==========================

func TestFireTime(t *testing.T) {
	clinic := time.FixedZone("clinic", -5*3600)

	tests := []struct {
		name   string
		date   time.Time
		now    time.Time
		loc    *time.Location
		want   time.Time
		wantOK bool
	}{
		{
			name:   "three days ahead",
			date:   time.Date(2026, 5, 13, 15, 30, 0, 0, time.UTC),
			now:    start,
			loc:    time.UTC,
			want:   time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "early morning appointment keeps the previous day",
			date:   time.Date(2026, 5, 14, 7, 0, 0, 0, time.UTC),
			now:    start,
			loc:    time.UTC,
			want:   time.Date(2026, 5, 13, 9, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "local zone decides the day and hour",
			date:   time.Date(2026, 5, 13, 2, 0, 0, 0, time.UTC), // 21:00 on the 12th in clinic time
			now:    start,
			loc:    clinic,
			want:   time.Date(2026, 5, 11, 9, 0, 0, 0, clinic),
			wantOK: true,
		},
		{
			name: "less than a day away",
			date: start.Add(23 * time.Hour),
			now:  start,
			loc:  time.UTC,
		},
		{
			name: "in the past",
			date: start.Add(-time.Hour),
			now:  start,
			loc:  time.UTC,
		},
		{
			name: "fire time already passed",
			date: time.Date(2026, 5, 11, 14, 0, 0, 0, time.UTC), // 26h away, previous 09:00 was this morning
			now:  start,
			loc:  time.UTC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FireTime(tt.date, tt.now, tt.loc, 9)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
			}
		})
	}
}

// ==========================
// Schedule
// ==========================

func TestScheduler_Schedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))

	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, job.FireAt.Equal(time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC)))

	stored, err := env.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)
	assert.True(t, stored.FireAt.Equal(job.FireAt))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RemindersScheduled))
}

func TestScheduler_Schedule_NoJob(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
	}{
		{"past", start.Add(-48 * time.Hour)},
		{"same day", start.Add(6 * time.Hour)},
		{"within a day", start.Add(23 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			id, _ := env.addAppointment(tt.date)

			job, err := env.sched.Schedule(context.Background(), id)
			require.NoError(t, err)
			assert.Nil(t, job)

			_, err = env.store.Get(context.Background(), id)
			assert.True(t, errors.Is(err, apperr.ErrNotFound))
		})
	}
}

func TestScheduler_Schedule_UnknownAppointment(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.sched.Schedule(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestScheduler_Schedule_CancelledAppointment(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.addAppointment(start.Add(72 * time.Hour))
	env.moveAppointment(id, start.Add(72*time.Hour), directory.AppointmentStatusCancelled)

	job, err := env.sched.Schedule(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestScheduler_Reschedule_ReplacesJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	_, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	env.moveAppointment(id, time.Date(2026, 5, 20, 10, 0, 0, 0, time.UTC), "booked")
	job, err := env.sched.Reschedule(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.True(t, job.FireAt.Equal(time.Date(2026, 5, 19, 9, 0, 0, 0, time.UTC)))

	// Nothing fires at the old time.
	env.clock.Set(time.Date(2026, 5, 12, 9, 0, 0, 0, time.UTC))
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)
	assert.Empty(t, env.notifier.all())
}

func TestScheduler_Reschedule_ToSameDaySupersedes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(start.Add(72 * time.Hour))
	_, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	env.moveAppointment(id, start.Add(5*time.Hour), "booked")
	job, err := env.sched.Reschedule(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, job)

	stored, err := env.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, stored.Status)
}

// ==========================
// Fire-time guard
// ==========================

func TestScheduler_Sweep_FiresDueReminder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, patient := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	// Not yet due.
	env.clock.Set(job.FireAt.Add(-time.Minute))
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)

	env.clock.Set(job.FireAt)
	res, err = env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Claimed: 1, Fired: 1}, res)

	calls := env.notifier.all()
	require.Len(t, calls, 1)
	assert.Equal(t, patient, calls[0].recipient)
	assert.Equal(t, notification.TemplateAppointmentReminder, calls[0].templateID)
	assert.Equal(t, map[string]string{"date": "2026-05-13", "time": "15:00"}, calls[0].data)

	stored, err := env.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFired, stored.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RemindersFired))

	// A fired job never fires again.
	env.clock.Set(job.FireAt.Add(time.Hour))
	res, err = env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)
	assert.Len(t, env.notifier.all(), 1)
}

func TestScheduler_CancelledBeforeFire_NoNotification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	date := time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC)
	id, _ := env.addAppointment(date)
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	// Cancelled in the clinic API without telling the scheduler.
	env.moveAppointment(id, date, directory.AppointmentStatusCancelled)

	env.clock.Set(job.FireAt)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Claimed: 1, Skipped: 1}, res)
	assert.Empty(t, env.notifier.all())

	stored, err := env.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSuperseded, stored.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RemindersSkipped.WithLabelValues(SkipCancelled)))
}

func TestScheduler_ExplicitCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	ok, err := env.sched.Cancel(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.sched.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "second cancel finds no live job")

	env.clock.Set(job.FireAt)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)
	assert.Empty(t, env.notifier.all())
}

func TestScheduler_Guard_RemovedAppointment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)
	env.dir.RemoveAppointment(id)

	env.clock.Set(job.FireAt)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, env.notifier.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RemindersSkipped.WithLabelValues(SkipMissing)))
}

func TestScheduler_Guard_AppointmentMovedIntoPast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)
	env.moveAppointment(id, time.Date(2026, 5, 11, 8, 0, 0, 0, time.UTC), "booked")

	env.clock.Set(job.FireAt)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, env.notifier.all())
}

func TestScheduler_Guard_AppointmentMovedLater(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)
	env.moveAppointment(id, time.Date(2026, 5, 18, 15, 0, 0, 0, time.UTC), "booked")

	env.clock.Set(job.FireAt)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, env.notifier.all())

	stored, err := env.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)
	assert.True(t, stored.FireAt.Equal(time.Date(2026, 5, 17, 9, 0, 0, 0, time.UTC)))

	env.clock.Set(stored.FireAt)
	res, err = env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fired)
}

func TestScheduler_LookupFailureIsSwallowed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	env.dir.FailWith = directorytest.ErrUnavailable
	env.clock.Set(job.FireAt)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err, "fire-time failures never surface from a sweep")
	assert.Equal(t, SweepResult{Claimed: 1, Failed: 1}, res)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RemindersFailed))

	// Not retried, even after the data layer recovers and the lease expires.
	env.dir.FailWith = nil
	env.clock.Set(job.FireAt.Add(DefaultLease + time.Minute))
	res, err = env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed)
	assert.Empty(t, env.notifier.all())
}

func TestScheduler_NotifierFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	env.notifier.err = errors.New("store down")
	env.clock.Set(job.FireAt)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
}

func TestScheduler_ReclaimsStaleClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	// A sweeper claims the job and dies before settling it.
	claimed, err := env.store.ClaimDue(ctx, job.FireAt, DefaultLease, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	env.clock.Set(job.FireAt.Add(time.Minute))
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Claimed, "lease still held")

	env.clock.Set(job.FireAt.Add(DefaultLease + time.Second))
	res, err = env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fired)

	stored, err := env.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.Attempts)
}

func TestScheduler_AbandonsAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	at := job.FireAt
	for i := 0; i < MaxAttempts; i++ {
		_, err := env.store.ClaimDue(ctx, at, DefaultLease, 10)
		require.NoError(t, err)
		at = at.Add(DefaultLease + time.Second)
	}

	env.clock.Set(at)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, env.notifier.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.RemindersSkipped.WithLabelValues(SkipExhausted)))
}

func TestScheduler_LastAllowedAttemptStillFires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(ctx, id)
	require.NoError(t, err)

	// Claimers that die mid-fire, leaving the lease to expire.
	at := job.FireAt
	for i := 0; i < MaxAttempts-1; i++ {
		_, err := env.store.ClaimDue(ctx, at, DefaultLease, 10)
		require.NoError(t, err)
		at = at.Add(DefaultLease + time.Second)
	}

	env.clock.Set(at)
	res, err := env.sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Fired)
	assert.Len(t, env.notifier.all(), 1)

	got, err := env.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, MaxAttempts, got.Attempts)
	assert.Equal(t, StatusFired, got.Status)
}

func TestScheduler_ConcurrentSweepsFireOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	var fireAt time.Time
	for i := 0; i < 20; i++ {
		id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, i, 0, 0, time.UTC))
		job, err := env.sched.Schedule(ctx, id)
		require.NoError(t, err)
		fireAt = job.FireAt
	}
	env.clock.Set(fireAt)

	var wg sync.WaitGroup
	results := make([]SweepResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := env.sched.Sweep(ctx)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.Fired
	}
	assert.Equal(t, 20, total)
	assert.Len(t, env.notifier.all(), 20)
}

func TestScheduler_Run(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.addAppointment(time.Date(2026, 5, 13, 15, 0, 0, 0, time.UTC))
	job, err := env.sched.Schedule(context.Background(), id)
	require.NoError(t, err)
	env.clock.Set(job.FireAt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.sched.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(env.notifier.all()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, env.notifier.all(), 1)
}
