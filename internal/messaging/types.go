package messaging

import (
	"context"
	"time"
)

// Inbound message types as reported by the WhatsApp Cloud API.
const (
	TypeText        = "text"
	TypeButton      = "button"
	TypeInteractive = "interactive"
	TypeImage       = "image"
	TypeDocument    = "document"
	TypeAudio       = "audio"
	TypeVideo       = "video"
	TypeSticker     = "sticker"
)

// Attachment references a media object received with an inbound message.
type Attachment struct {
	MediaID  string `json:"media_id"`
	MimeType string `json:"mime_type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
	// ArchiveURL is set once the media has been copied to long-term storage.
	ArchiveURL string `json:"archive_url,omitempty"`
}

// InboundMessage is one user message delivered by the channel webhook.
// NumberID is the WhatsApp phone_number_id the message was sent to and
// identifies the tenant.
type InboundMessage struct {
	MessageID     string       `json:"message_id"`
	NumberID      string       `json:"number_id"`
	DisplayNumber string       `json:"display_number,omitempty"`
	From          string       `json:"from"`
	PushName      string       `json:"push_name,omitempty"`
	Body          string       `json:"body"`
	Type          string       `json:"type"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	ReceivedAt    time.Time    `json:"received_at"`
}

// OutboundMessage is a free-form reply. Buttons are reply options offered
// to the user; the title of the chosen option comes back as the body.
type OutboundMessage struct {
	FromNumberID string
	To           string
	Text         string
	Buttons      []string
}

// TemplateMessage sends a pre-approved template with positional body parameters.
type TemplateMessage struct {
	FromNumberID string
	To           string
	Name         string
	Language     string
	Parameters   []string
}

// Sender delivers outbound WhatsApp messages.
type Sender interface {
	SendMessage(ctx context.Context, msg OutboundMessage) error
	SendTemplate(ctx context.Context, msg TemplateMessage) error
}

// InboundPublisher hands accepted inbound messages to the conversation workers.
type InboundPublisher interface {
	EnqueueInbound(ctx context.Context, msg InboundMessage) error
}
