package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventName identifies a server-to-client push event.
type EventName string

const (
	EventNewNotification      EventName = "newNotification"
	EventNotificationsDeleted EventName = "notificationsDeleted"
	EventNewMessage           EventName = "newMessage"
	EventMessageUpdated       EventName = "messageUpdated"
	EventMessagesRead         EventName = "messagesRead"
	EventUserConnected        EventName = "userConnected"
	EventUserDisconnected     EventName = "userDisconnected"
	EventTyping               EventName = "typing"
	EventStoppedTyping        EventName = "stoppedTyping"
)

// Payload is a typed push payload. Each event name has exactly one payload
// type; the payload reports which event it belongs to.
type Payload interface {
	EventName() EventName
}

// Event is the frame written to a channel.
type Event struct {
	Name      EventName       `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func encodeEvent(p Payload, at time.Time) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Name: p.EventName(), Data: data, Timestamp: at})
}

// NotificationsDeleted is pushed after a user's notifications are bulk
// soft-deleted. It carries no fields.
type NotificationsDeleted struct{}

func (NotificationsDeleted) EventName() EventName { return EventNotificationsDeleted }

// MessagesRead tells a sender which of their messages were read.
type MessagesRead struct {
	IDs []uuid.UUID `json:"ids"`
}

func (MessagesRead) EventName() EventName { return EventMessagesRead }

// UserConnected is broadcast when a user opens their first channel.
type UserConnected struct {
	UserID uuid.UUID `json:"userId"`
}

func (UserConnected) EventName() EventName { return EventUserConnected }

// UserDisconnected is broadcast when a user's last channel closes.
type UserDisconnected struct {
	UserID uuid.UUID `json:"userId"`
}

func (UserDisconnected) EventName() EventName { return EventUserDisconnected }

// Typing signals that SenderID is composing a message.
type Typing struct {
	SenderID uuid.UUID `json:"senderId"`
}

func (Typing) EventName() EventName { return EventTyping }

// StoppedTyping clears a previous Typing signal.
type StoppedTyping struct {
	SenderID uuid.UUID `json:"senderId"`
}

func (StoppedTyping) EventName() EventName { return EventStoppedTyping }
