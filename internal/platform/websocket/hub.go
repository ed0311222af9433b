// Package websocket carries real-time events to connected users. The
// Registry tracks which channels each user holds open, the Fanout pushes typed
// events to those channels, and the Handler upgrades HTTP requests into
// channels and pumps frames in both directions.
package websocket

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/notify/internal/platform/apperr"
	"github.com/ehr/notify/internal/platform/metrics"
)

// Channel is one open delivery channel belonging to a single user session.
// Frames queued on Send are written to the socket in order by one writer.
type Channel struct {
	ID   string
	Send chan []byte
	once sync.Once
}

// NewChannel creates a channel with a send buffer of the given size.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 256
	}
	return &Channel{
		ID:   uuid.New().String(),
		Send: make(chan []byte, buffer),
	}
}

func (ch *Channel) close() {
	ch.once.Do(func() { close(ch.Send) })
}

// PresenceFunc is called when a user goes online (first channel attached) or
// offline (last channel detached). It runs outside the registry lock, one
// call at a time, in the order the registry changed. It must not attach or
// detach channels.
type PresenceFunc func(userID uuid.UUID, online bool)

type presenceChange struct {
	userID uuid.UUID
	online bool
}

// Registry maps user ids to their open channels. All operations are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]map[*Channel]struct{}
	owners   map[*Channel]uuid.UUID
	onChange PresenceFunc
	metrics  *metrics.Metrics

	// pending is appended under mu; notifyMu admits one dispatcher at a time.
	pending  []presenceChange
	notifyMu sync.Mutex
}

// NewRegistry creates an empty Registry.
func NewRegistry(m *metrics.Metrics) *Registry {
	return &Registry{
		users:   make(map[uuid.UUID]map[*Channel]struct{}),
		owners:  make(map[*Channel]uuid.UUID),
		metrics: m,
	}
}

// OnPresenceChange installs the presence callback.
func (r *Registry) OnPresenceChange(fn PresenceFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Attach records ch under userID. A channel already attached to another user
// is moved, so it is never listed under two users at once.
func (r *Registry) Attach(userID uuid.UUID, ch *Channel) error {
	if userID == uuid.Nil || ch == nil {
		return apperr.ErrUnauthenticated
	}

	r.mu.Lock()
	prev, attached := r.owners[ch]
	if attached && prev == userID {
		r.mu.Unlock()
		return nil
	}
	if attached && r.remove(prev, ch) {
		r.queueLocked(prev, false)
	}

	set, ok := r.users[userID]
	if !ok {
		set = make(map[*Channel]struct{})
		r.users[userID] = set
		r.queueLocked(userID, true)
	}
	set[ch] = struct{}{}
	r.owners[ch] = userID
	r.recordLocked()
	r.mu.Unlock()

	r.dispatch()
	return nil
}

// Detach removes ch from whichever user holds it and closes its send queue.
// It returns the owning user and whether that user has no channels left.
func (r *Registry) Detach(ch *Channel) (uuid.UUID, bool) {
	r.mu.Lock()
	userID, ok := r.owners[ch]
	if !ok {
		r.mu.Unlock()
		return uuid.Nil, false
	}
	last := r.remove(userID, ch)
	ch.close()
	if last {
		r.queueLocked(userID, false)
	}
	r.recordLocked()
	r.mu.Unlock()

	r.dispatch()
	return userID, last
}

// queueLocked records a presence change for dispatch. Callers hold r.mu.
func (r *Registry) queueLocked(userID uuid.UUID, online bool) {
	if r.onChange != nil {
		r.pending = append(r.pending, presenceChange{userID, online})
	}
}

// dispatch delivers queued presence changes in the order they were queued.
// Whoever holds notifyMu drains the queue, including changes queued by
// other goroutines while it runs.
func (r *Registry) dispatch() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	for {
		r.mu.Lock()
		batch := r.pending
		r.pending = nil
		fn := r.onChange
		r.mu.Unlock()

		if len(batch) == 0 || fn == nil {
			return
		}
		for _, pc := range batch {
			fn(pc.userID, pc.online)
		}
	}
}

// remove drops ch from userID's set and reports whether the set emptied.
// Callers hold r.mu.
func (r *Registry) remove(userID uuid.UUID, ch *Channel) bool {
	delete(r.owners, ch)
	set, ok := r.users[userID]
	if !ok {
		return false
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(r.users, userID)
		return true
	}
	return false
}

func (r *Registry) recordLocked() {
	r.metrics.Presence(len(r.owners), len(r.users))
}

// ChannelsFor returns a snapshot of the channels userID holds open.
func (r *Registry) ChannelsFor(userID uuid.UUID) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.users[userID]
	out := make([]*Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// OnlineUsers returns the ids of every present user.
func (r *Registry) OnlineUsers() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uuid.UUID, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	return out
}

// send queues data on each of userID's channels without blocking. Holding the
// read lock keeps Detach from closing a queue mid-send.
func (r *Registry) send(userID uuid.UUID, data []byte) (sent, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for ch := range r.users[userID] {
		select {
		case ch.Send <- data:
			sent++
		default:
			dropped++
		}
	}
	return sent, dropped
}

// sendAllExcept queues data on every channel not owned by except.
func (r *Registry) sendAllExcept(except uuid.UUID, data []byte) (sent, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for userID, set := range r.users {
		if userID == except {
			continue
		}
		for ch := range set {
			select {
			case ch.Send <- data:
				sent++
			default:
				dropped++
			}
		}
	}
	return sent, dropped
}
