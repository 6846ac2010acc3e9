package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

var tracer = otel.Tracer("clinicai.internal.inbox")

// Entry is one message to mirror. ConversationID is the id returned by an
// earlier Record call for the same sender, or zero.
type Entry struct {
	Phone          string
	Name           string
	Text           string
	Direction      Direction
	ConversationID int64
}

// Mirror copies conversation traffic into the support inbox and returns the
// inbox conversation id.
type Mirror interface {
	Record(ctx context.Context, entry Entry) (int64, error)
}

// NoopMirror is used when no inbox is configured.
type NoopMirror struct{}

func (NoopMirror) Record(_ context.Context, entry Entry) (int64, error) {
	return entry.ConversationID, nil
}

type chatwootAPI interface {
	FindOrCreateInbox(ctx context.Context, name string) (*Inbox, error)
	FindOrCreateContact(ctx context.Context, inboxID int64, phone, name string) (*Contact, error)
	FindOrCreateConversation(ctx context.Context, inboxID, contactID int64, phone string) (*Conversation, error)
	CreateMessage(ctx context.Context, conversationID int64, text string, direction Direction) error
}

// ChatwootMirror writes entries to a Chatwoot API inbox. The inbox id is
// resolved once and cached.
type ChatwootMirror struct {
	api       chatwootAPI
	inboxName string
	logger    *logging.Logger

	mu      sync.Mutex
	inboxID int64
}

func NewChatwootMirror(api chatwootAPI, inboxName string, logger *logging.Logger) *ChatwootMirror {
	if api == nil {
		panic("inbox: chatwoot client required")
	}
	if strings.TrimSpace(inboxName) == "" {
		inboxName = "ClinicAI"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatwootMirror{api: api, inboxName: inboxName, logger: logger}
}

func (m *ChatwootMirror) Record(ctx context.Context, entry Entry) (int64, error) {
	ctx, span := tracer.Start(ctx, "inbox.mirror.record")
	defer span.End()

	if strings.TrimSpace(entry.Text) == "" {
		return entry.ConversationID, nil
	}
	if entry.Phone == "" {
		return 0, errors.New("inbox: phone required")
	}

	if entry.ConversationID > 0 {
		err := m.api.CreateMessage(ctx, entry.ConversationID, entry.Text, entry.Direction)
		if err == nil {
			return entry.ConversationID, nil
		}
		// The remembered conversation may have been resolved or deleted.
		m.logger.Debug("cached inbox conversation rejected message", "conversation_id", entry.ConversationID, "error", err)
	}

	conversationID, err := m.resolveConversation(ctx, entry.Phone, entry.Name)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if err := m.api.CreateMessage(ctx, conversationID, entry.Text, entry.Direction); err != nil {
		span.RecordError(err)
		return conversationID, err
	}
	return conversationID, nil
}

func (m *ChatwootMirror) resolveConversation(ctx context.Context, phone, name string) (int64, error) {
	inboxID, err := m.inbox(ctx)
	if err != nil {
		return 0, err
	}
	contact, err := m.api.FindOrCreateContact(ctx, inboxID, phone, name)
	if err != nil {
		return 0, err
	}
	conv, err := m.api.FindOrCreateConversation(ctx, inboxID, contact.ID, phone)
	if err != nil {
		return 0, err
	}
	return conv.ID, nil
}

func (m *ChatwootMirror) inbox(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inboxID != 0 {
		return m.inboxID, nil
	}
	inbox, err := m.api.FindOrCreateInbox(ctx, m.inboxName)
	if err != nil {
		return 0, err
	}
	if inbox == nil || inbox.ID == 0 {
		return 0, fmt.Errorf("inbox: inbox %q unavailable", m.inboxName)
	}
	m.inboxID = inbox.ID
	return inbox.ID, nil
}
