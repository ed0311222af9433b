package chat

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/notify/internal/platform/websocket"
	"github.com/ehr/notify/pkg/pagination"
)

// Attachment media kinds.
const (
	MediaImage = "image"
	MediaVideo = "video"
	MediaAudio = "audio"
	MediaFile  = "file"
)

var validMedia = map[string]bool{MediaImage: true, MediaVideo: true, MediaAudio: true, MediaFile: true}

// Attachment references media stored elsewhere.
type Attachment struct {
	URL       string `json:"url"`
	MediaKind string `json:"mediaType"`
}

// Message is one conversation message between two users. Read only moves
// from false to true.
type Message struct {
	ID          uuid.UUID   `json:"id"`
	SenderID    uuid.UUID   `json:"senderId"`
	RecipientID uuid.UUID   `json:"recipientId"`
	Content     string      `json:"content"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	Read        bool        `json:"read"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// HistoryPage is one page of a conversation, oldest message first. Page 1
// holds the most recent messages; higher pages go back in time.
type HistoryPage struct {
	Items []*Message `json:"items"`
	pagination.Meta
}

// NewMessage is pushed to both participants when a message is sent.
type NewMessage struct {
	*Message
}

func (NewMessage) EventName() websocket.EventName { return websocket.EventNewMessage }

// MessageUpdated is pushed to the reader's own channels when a message they
// received is marked read.
type MessageUpdated struct {
	*Message
}

func (MessageUpdated) EventName() websocket.EventName { return websocket.EventMessageUpdated }
