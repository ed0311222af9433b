package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/notify/internal/platform/metrics"
)

// Fanout delivers typed events to every open channel of a user. Delivery is
// fire-and-forget: a user with no channels is a silent no-op and clients
// catch up through the list and history endpoints.
type Fanout struct {
	registry *Registry
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewFanout creates a Fanout over reg and installs the presence callback that
// broadcasts userConnected and userDisconnected.
func NewFanout(reg *Registry, logger zerolog.Logger, m *metrics.Metrics) *Fanout {
	f := &Fanout{
		registry: reg,
		logger:   logger.With().Str("component", "fanout").Logger(),
		metrics:  m,
		now:      time.Now,
	}
	reg.OnPresenceChange(f.presenceChanged)
	return f
}

// Push queues p on each of userID's channels and returns how many channels
// accepted it. Events pushed to the same channel keep their call order.
func (f *Fanout) Push(userID uuid.UUID, p Payload) int {
	name := string(p.EventName())
	data, err := encodeEvent(p, f.now().UTC())
	if err != nil {
		f.logger.Error().Err(err).Str("event", name).Msg("encode event")
		return 0
	}

	sent, dropped := f.registry.send(userID, data)
	f.account(name, userID, sent, dropped)
	if sent == 0 && dropped == 0 {
		f.metrics.Noop(name)
		f.logger.Debug().Str("event", name).Str("user_id", userID.String()).Msg("no open channel")
	}
	return sent
}

// Broadcast queues p on every channel except those owned by except.
func (f *Fanout) Broadcast(except uuid.UUID, p Payload) int {
	name := string(p.EventName())
	data, err := encodeEvent(p, f.now().UTC())
	if err != nil {
		f.logger.Error().Err(err).Str("event", name).Msg("encode event")
		return 0
	}
	sent, dropped := f.registry.sendAllExcept(except, data)
	f.account(name, except, sent, dropped)
	return sent
}

func (f *Fanout) account(name string, userID uuid.UUID, sent, dropped int) {
	for i := 0; i < sent; i++ {
		f.metrics.Pushed(name)
	}
	if dropped > 0 {
		for i := 0; i < dropped; i++ {
			f.metrics.Dropped(name)
		}
		f.logger.Warn().
			Str("event", name).
			Str("user_id", userID.String()).
			Int("dropped", dropped).
			Msg("channel send buffer full")
	}
}

func (f *Fanout) presenceChanged(userID uuid.UUID, online bool) {
	if online {
		f.Broadcast(userID, UserConnected{UserID: userID})
		return
	}
	f.Broadcast(userID, UserDisconnected{UserID: userID})
}
