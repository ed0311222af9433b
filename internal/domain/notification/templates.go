package notification

import (
	"fmt"
	"strings"
	"sync"
)

const (
	TemplateAppointmentCreated     = "appointment-created"
	TemplateAppointmentRescheduled = "appointment-rescheduled"
	TemplateAppointmentUpdated     = "appointment-updated"
	TemplateAppointmentCancelled   = "appointment-cancelled"
	TemplateAppointmentReminder    = "appointment-reminder"
	TemplateTreatmentUpdated       = "treatment-updated"
)

// Template is a reusable notification message with {{key}} placeholders.
type Template struct {
	ID   string
	Kind Kind
	Body string
}

// TemplateEngine renders notification messages from registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	builtIn := []Template{
		{
			ID:   TemplateAppointmentCreated,
			Kind: KindAppointment,
			Body: "You have a new appointment on {{date}} at {{time}}.",
		},
		{
			ID:   TemplateAppointmentRescheduled,
			Kind: KindAppointment,
			Body: "Your appointment has been moved to {{date}} at {{time}}.",
		},
		{
			ID:   TemplateAppointmentUpdated,
			Kind: KindAppointment,
			Body: "Your appointment on {{date}} at {{time}} has been updated.",
		},
		{
			ID:   TemplateAppointmentCancelled,
			Kind: KindWarning,
			Body: "Your appointment on {{date}} at {{time}} has been cancelled.",
		},
		{
			ID:   TemplateAppointmentReminder,
			Kind: KindAppointment,
			Body: "Reminder: you have an appointment tomorrow, {{date}} at {{time}}.",
		},
		{
			ID:   TemplateTreatmentUpdated,
			Kind: KindTreatment,
			Body: "Your treatment plan has been updated.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement. Keys
// absent from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Kind, string, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	body := t.Body
	for k, v := range data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return t.Kind, body, nil
}
