package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/notify/internal/platform/websocket"
	"github.com/ehr/notify/pkg/pagination"
)

type Kind string

const (
	KindInfo        Kind = "info"
	KindWarning     Kind = "warning"
	KindSuccess     Kind = "success"
	KindAppointment Kind = "appointment"
	KindTreatment   Kind = "treatment"
)

var validKinds = map[Kind]bool{
	KindInfo: true, KindWarning: true, KindSuccess: true,
	KindAppointment: true, KindTreatment: true,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool { return validKinds[k] }

// Notification is a persisted alert for one recipient. Read and Deleted only
// ever move from false to true. Deleted rows are retained but never returned.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	RecipientID uuid.UUID `json:"recipientId"`
	Message     string    `json:"message"`
	Kind        Kind      `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
	Read        bool      `json:"read"`
	Deleted     bool      `json:"-"`
}

// Page is one page of the recent-notifications view.
type Page struct {
	Items []*Notification `json:"items"`
	pagination.Meta
}

// NewNotification is pushed to the recipient after a notification is stored.
type NewNotification struct {
	*Notification
}

func (NewNotification) EventName() websocket.EventName { return websocket.EventNewNotification }
