package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/handoff"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

const (
	ThanksMessage = "¡Gracias por contactarnos! Si necesitas algo más, escríbenos cuando quieras."

	notePaused       = "🔴 Bot *pausado* para este cliente."
	noteResumed      = "🟢 Bot *activado* para este cliente."
	noteStatusPaused = "🔴 Bot está *pausado* para este cliente."
	noteStatusActive = "🟢 Bot está *activo* para este cliente."
)

var loopbackURL = regexp.MustCompile(`(?i)https://(0\.0\.0\.0|127\.0\.0\.1)`)

// TenantLookup finds the clinic a sender belongs to so agent replies leave
// from that clinic's number.
type TenantLookup interface {
	Resolve(ctx context.Context, inboundNumber, senderPhone string) (*clinic.Tenant, error)
}

type noteWriter interface {
	CreatePrivateNote(ctx context.Context, conversationID int64, text string) error
}

// WebhookHandler processes Chatwoot account webhooks.
type WebhookHandler struct {
	registry        handoff.Registry
	sender          messaging.Sender
	notes           noteWriter
	tenants         TenantLookup
	defaultNumberID string
	endpoint        string
	logger          *logging.Logger
}

// WebhookOption configures a WebhookHandler.
type WebhookOption func(*WebhookHandler)

func WithTenantLookup(l TenantLookup) WebhookOption {
	return func(h *WebhookHandler) { h.tenants = l }
}

func WithLogger(l *logging.Logger) WebhookOption {
	return func(h *WebhookHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewWebhookHandler builds the handler. defaultNumberID is used for relays
// when the sender's clinic cannot be resolved.
func NewWebhookHandler(registry handoff.Registry, sender messaging.Sender, client *Client, defaultNumberID string, opts ...WebhookOption) *WebhookHandler {
	if registry == nil {
		panic("inbox: pause registry required")
	}
	if sender == nil {
		panic("inbox: sender required")
	}
	h := &WebhookHandler{
		registry:        registry,
		sender:          sender,
		defaultNumberID: defaultNumberID,
		logger:          logging.Default(),
	}
	if client != nil {
		h.notes = client
		h.endpoint = client.Endpoint()
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type phoneHolder struct {
	PhoneNumber string `json:"phone_number"`
}

type conversationMeta struct {
	Sender *phoneHolder `json:"sender"`
	User   *phoneHolder `json:"user"`
}

type attributeChange struct {
	CurrentValue  json.RawMessage `json:"current_value"`
	PreviousValue json.RawMessage `json:"previous_value"`
}

type webhookEvent struct {
	Event             string                       `json:"event"`
	Status            string                       `json:"status"`
	MessageType       string                       `json:"message_type"`
	Private           bool                         `json:"private"`
	Content           string                       `json:"content"`
	ContentType       string                       `json:"content_type"`
	Sender            *struct{ Name, Type string } `json:"sender"`
	Meta              conversationMeta             `json:"meta"`
	ChangedAttributes []map[string]attributeChange `json:"changed_attributes"`
	Conversation      *struct {
		ID      int64            `json:"id"`
		Channel string           `json:"channel"`
		Status  string           `json:"status"`
		Meta    conversationMeta `json:"meta"`
	} `json:"conversation"`
}

// ServeHTTP handles POST /chatwoot.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "inbox.webhook")
	defer span.End()

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	var ev webhookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.logger.Warn("invalid chatwoot payload", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	if err := h.handle(ctx, ev); err != nil {
		h.logger.Error("chatwoot webhook failed", "event", ev.Event, "error", err)
		span.RecordError(err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *WebhookHandler) handle(ctx context.Context, ev webhookEvent) error {
	switch {
	case ev.Event == "conversation.created":
		return h.conversationCreated(ctx, ev)
	case ev.Event == "conversation.updated":
		return h.conversationUpdated(ctx, ev)
	case ev.Event != "message_created":
		return nil
	case ev.ContentType == "input_csat":
		return h.csat(ctx, ev)
	case ev.Private:
		return h.privateNote(ctx, ev)
	case ev.MessageType == "outgoing":
		return h.agentReply(ctx, ev)
	}
	return nil
}

func (h *WebhookHandler) conversationCreated(ctx context.Context, ev webhookEvent) error {
	change, ok := assigneeChange(ev.ChangedAttributes)
	phone := senderPhone(ev.Meta)
	if !ok || phone == "" {
		return nil
	}
	if hasValue(change.CurrentValue) {
		return h.pause(ctx, phone)
	}
	return h.registry.Resume(ctx, phone)
}

func (h *WebhookHandler) conversationUpdated(ctx context.Context, ev webhookEvent) error {
	phone := senderPhone(ev.Meta)
	if phone == "" {
		return nil
	}
	if ev.Status == "resolved" {
		paused, err := h.registry.IsPaused(ctx, phone)
		if err != nil {
			return err
		}
		if paused {
			if err := h.registry.Resume(ctx, phone); err != nil {
				return err
			}
			h.logger.Info("bot resumed after resolution", "phone", logging.MaskPhone(phone))
			h.resolved(ctx, phone)
		}
	}
	change, ok := assigneeChange(ev.ChangedAttributes)
	if !ok {
		return nil
	}
	current, previous := hasValue(change.CurrentValue), hasValue(change.PreviousValue)
	switch {
	case current && !previous:
		return h.pause(ctx, phone)
	case !current && previous:
		return h.registry.Resume(ctx, phone)
	}
	return nil
}

func (h *WebhookHandler) agentReply(ctx context.Context, ev webhookEvent) error {
	if isBotMessage(ev) || ev.Conversation == nil {
		return nil
	}
	phone := senderPhone(ev.Conversation.Meta)
	if phone == "" {
		if u := ev.Conversation.Meta.User; u != nil {
			phone = clinic.NormalizePhone(u.PhoneNumber)
		}
	}
	text := strings.TrimSpace(ev.Content)
	if phone == "" || text == "" {
		return nil
	}
	if err := h.relay(ctx, phone, ev.Content); err != nil {
		h.logger.Error("failed to relay agent reply", "phone", logging.MaskPhone(phone), "error", err)
	}
	return nil
}

func (h *WebhookHandler) privateNote(ctx context.Context, ev webhookEvent) error {
	if ev.Conversation == nil {
		return nil
	}
	phone := senderPhone(ev.Conversation.Meta)
	command := strings.ToLower(strings.TrimSpace(ev.Content))
	if phone == "" || command == "" {
		return nil
	}

	var note string
	switch command {
	case "/bot off", "/pausar bot":
		if err := h.pause(ctx, phone); err != nil {
			return err
		}
		note = notePaused
	case "/bot on", "/activar bot":
		if err := h.registry.Resume(ctx, phone); err != nil {
			return err
		}
		note = noteResumed
	case "/bot status", "/estado bot":
		paused, err := h.registry.IsPaused(ctx, phone)
		if err != nil {
			return err
		}
		note = noteStatusActive
		if paused {
			note = noteStatusPaused
		}
	default:
		return nil
	}
	if h.notes != nil {
		if err := h.notes.CreatePrivateNote(ctx, ev.Conversation.ID, note); err != nil {
			h.logger.Warn("failed to post chatwoot note", "conversation_id", ev.Conversation.ID, "error", err)
		}
	}
	return nil
}

func (h *WebhookHandler) csat(ctx context.Context, ev webhookEvent) error {
	conv := ev.Conversation
	if conv == nil || ev.Private || conv.Status != "resolved" || !strings.Contains(conv.Channel, "Channel::Api") {
		return nil
	}
	phone := senderPhone(conv.Meta)
	if phone == "" {
		return nil
	}
	content := ev.Content
	if h.endpoint != "" {
		content = loopbackURL.ReplaceAllString(content, h.endpoint)
	}
	if err := h.relay(ctx, phone, content); err != nil {
		h.logger.Error("failed to relay csat survey", "phone", logging.MaskPhone(phone), "error", err)
	}
	paused, err := h.registry.IsPaused(ctx, phone)
	if err != nil {
		return err
	}
	if !paused {
		h.resolved(ctx, phone)
	}
	return nil
}

func (h *WebhookHandler) pause(ctx context.Context, phone string) error {
	if err := h.registry.Pause(ctx, phone); err != nil {
		return err
	}
	h.logger.Info("bot paused for sender", "phone", logging.MaskPhone(phone))
	return nil
}

// resolved runs the resolution hook. Failures are logged only.
func (h *WebhookHandler) resolved(ctx context.Context, phone string) {
	if err := h.relay(ctx, phone, ThanksMessage); err != nil {
		h.logger.Warn("failed to send resolution message", "phone", logging.MaskPhone(phone), "error", err)
	}
}

func (h *WebhookHandler) relay(ctx context.Context, phone, text string) error {
	numberID, err := h.numberFor(ctx, phone)
	if err != nil {
		return err
	}
	return h.sender.SendMessage(ctx, messaging.OutboundMessage{
		FromNumberID: numberID,
		To:           phone,
		Text:         text,
	})
}

func (h *WebhookHandler) numberFor(ctx context.Context, phone string) (string, error) {
	if h.tenants != nil {
		tenant, err := h.tenants.Resolve(ctx, "", phone)
		if err == nil && tenant.NumberID != "" {
			return tenant.NumberID, nil
		}
	}
	if h.defaultNumberID == "" {
		return "", errors.New("inbox: no sender number for relay")
	}
	return h.defaultNumberID, nil
}

func isBotMessage(ev webhookEvent) bool {
	if ev.Sender == nil {
		return true
	}
	if ev.Sender.Name == "Bot" || ev.Sender.Type == "bot" {
		return true
	}
	return strings.HasPrefix(ev.Content, strings.TrimSpace(BotPrefix)) || strings.Contains(ev.Content, "ClinicAI:")
}

func senderPhone(meta conversationMeta) string {
	if meta.Sender == nil {
		return ""
	}
	return clinic.NormalizePhone(meta.Sender.PhoneNumber)
}

func assigneeChange(changes []map[string]attributeChange) (attributeChange, bool) {
	for _, c := range changes {
		if change, ok := c["assignee_id"]; ok {
			return change, true
		}
	}
	return attributeChange{}, false
}

func hasValue(raw json.RawMessage) bool {
	v := strings.TrimSpace(string(raw))
	return v != "" && v != "null"
}
