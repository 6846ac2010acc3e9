package conversation

import (
	"strings"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
)

// Session is the per-message context handed to every step handler.
type Session struct {
	Message  messaging.InboundMessage
	Key      string
	State    *State
	Now      time.Time
	finished bool
}

func newSession(msg messaging.InboundMessage, state *State, now time.Time) *Session {
	if state == nil {
		state = NewState()
	}
	return &Session{
		Message: msg,
		Key:     ConversationKey(msg.NumberID, msg.From),
		State:   state,
		Now:     now,
	}
}

// Phone is the sender's WhatsApp number.
func (s *Session) Phone() string { return s.Message.From }

// Text is the trimmed message body.
func (s *Session) Text() string { return strings.TrimSpace(s.Message.Body) }

// TenantID returns the cached tenant id or "".
func (s *Session) TenantID() string {
	if s.State.Tenant == nil {
		return ""
	}
	return s.State.Tenant.ID
}

// ClinicName falls back to a neutral phrase when the tenant has no name.
func (s *Session) ClinicName() string {
	if s.State.Tenant == nil || strings.TrimSpace(s.State.Tenant.ClinicName) == "" {
		return "nuestra clínica"
	}
	return s.State.Tenant.ClinicName
}

// ClientName returns the registered name, then the WhatsApp profile name.
func (s *Session) ClientName() string {
	if s.State.Client != nil && strings.TrimSpace(s.State.Client.Name) != "" {
		return s.State.Client.Name
	}
	if name := strings.TrimSpace(s.Message.PushName); name != "" {
		return name
	}
	return "Usuario"
}

// Finish marks the conversation as terminated; the engine clears its state.
func (s *Session) Finish() { s.finished = true }

// Finished reports whether Finish was called.
func (s *Session) Finished() bool { return s.finished }

// moveTo replaces the dialogue step.
func (s *Session) moveTo(step Step) {
	s.finished = false
	s.State.Step = step
}
