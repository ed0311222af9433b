// Package directorytest provides an in-memory directory for tests.
package directorytest

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/notify/internal/platform/directory"
)

// Memory is an in-process directory.
// Set FailWith to simulate a data-layer outage.
type Memory struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]struct{}
	appointments map[uuid.UUID]directory.Appointment
	treatments   map[uuid.UUID]directory.Treatment
	FailWith     error
}

// NewMemory creates an empty Memory directory.
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[uuid.UUID]struct{}),
		appointments: make(map[uuid.UUID]directory.Appointment),
		treatments:   make(map[uuid.UUID]directory.Treatment),
	}
}

// AddUser registers a user id and returns it.
func (m *Memory) AddUser(id uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = struct{}{}
	return id
}

// PutAppointment inserts or replaces an appointment.
func (m *Memory) PutAppointment(a directory.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Exists = true
	m.appointments[a.ID] = a
}

// RemoveAppointment deletes an appointment.
func (m *Memory) RemoveAppointment(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.appointments, id)
}

// PutTreatment inserts or replaces a treatment plan.
func (m *Memory) PutTreatment(t directory.Treatment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Exists = true
	m.treatments[t.ID] = t
}

func (m *Memory) fail() error {
	if m.FailWith != nil {
		return m.FailWith
	}
	return nil
}

func (m *Memory) ResolveUser(_ context.Context, id uuid.UUID) (*directory.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	_, ok := m.users[id]
	return &directory.User{ID: id, Exists: ok}, nil
}

func (m *Memory) ResolveAppointment(_ context.Context, id uuid.UUID) (*directory.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	a, ok := m.appointments[id]
	if !ok {
		return &directory.Appointment{ID: id}, nil
	}
	return &a, nil
}

func (m *Memory) ResolveTreatment(_ context.Context, id uuid.UUID) (*directory.Treatment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fail(); err != nil {
		return nil, err
	}
	t, ok := m.treatments[id]
	if !ok {
		return &directory.Treatment{ID: id}, nil
	}
	return &t, nil
}

// ErrUnavailable is a convenience error for simulating outages.
var ErrUnavailable = errors.New("directory unavailable")
