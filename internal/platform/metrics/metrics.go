// Package metrics exposes Prometheus collectors for delivery, presence and
// reminder activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	EventsPushed         *prometheus.CounterVec
	DeliveryNoops        *prometheus.CounterVec
	EventsDropped        *prometheus.CounterVec
	OpenChannels         prometheus.Gauge
	OnlineUsers          prometheus.Gauge
	NotificationsCreated *prometheus.CounterVec
	MessagesSent         prometheus.Counter
	RemindersScheduled   prometheus.Counter
	RemindersFired       prometheus.Counter
	RemindersSkipped     *prometheus.CounterVec
	RemindersFailed      prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsPushed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_events_pushed_total",
			Help: "Events written to open delivery channels",
		}, []string{"event"}),
		DeliveryNoops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_delivery_noops_total",
			Help: "Pushes addressed to users with no open channel",
		}, []string{"event"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_events_dropped_total",
			Help: "Events dropped because a channel send buffer was full",
		}, []string{"event"}),
		OpenChannels: f.NewGauge(prometheus.GaugeOpts{
			Name: "notify_open_channels",
			Help: "Currently attached delivery channels",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "notify_online_users",
			Help: "Users holding at least one open channel",
		}),
		NotificationsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_notifications_created_total",
			Help: "Notifications persisted, by kind",
		}, []string{"kind"}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "notify_chat_messages_sent_total",
			Help: "Conversation messages persisted",
		}),
		RemindersScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "notify_reminders_scheduled_total",
			Help: "Reminder jobs registered or replaced",
		}),
		RemindersFired: f.NewCounter(prometheus.CounterOpts{
			Name: "notify_reminders_fired_total",
			Help: "Reminder jobs that produced a notification",
		}),
		RemindersSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_reminders_skipped_total",
			Help: "Reminder jobs that failed their fire-time guard",
		}, []string{"reason"}),
		RemindersFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "notify_reminders_failed_total",
			Help: "Reminder jobs dropped because of a data-layer error",
		}),
	}
}

func (m *Metrics) Pushed(event string) {
	if m != nil {
		m.EventsPushed.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Noop(event string) {
	if m != nil {
		m.DeliveryNoops.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Dropped(event string) {
	if m != nil {
		m.EventsDropped.WithLabelValues(event).Inc()
	}
}

// Presence records the current channel and user totals.
func (m *Metrics) Presence(channels, users int) {
	if m != nil {
		m.OpenChannels.Set(float64(channels))
		m.OnlineUsers.Set(float64(users))
	}
}

func (m *Metrics) NotificationCreated(kind string) {
	if m != nil {
		m.NotificationsCreated.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) ReminderScheduled() {
	if m != nil {
		m.RemindersScheduled.Inc()
	}
}

func (m *Metrics) ReminderFired() {
	if m != nil {
		m.RemindersFired.Inc()
	}
}

func (m *Metrics) ReminderSkipped(reason string) {
	if m != nil {
		m.RemindersSkipped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ReminderFailed() {
	if m != nil {
		m.RemindersFailed.Inc()
	}
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}
