package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

const maxWebhookBody = 1 << 20

// WebhookHandler serves the WhatsApp Cloud API webhook.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	publisher   InboundPublisher
	ledger      Ledger
	logger      *logging.Logger
	metrics     *metrics.MessagingMetrics
	now         func() time.Time
}

// WebhookOption configures a WebhookHandler.
type WebhookOption func(*WebhookHandler)

// WithLedger drops redelivered message ids.
func WithLedger(l Ledger) WebhookOption {
	return func(h *WebhookHandler) {
		h.ledger = l
	}
}

func WithWebhookLogger(l *logging.Logger) WebhookOption {
	return func(h *WebhookHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

func WithWebhookMetrics(m *metrics.MessagingMetrics) WebhookOption {
	return func(h *WebhookHandler) {
		h.metrics = m
	}
}

// NewWebhookHandler creates the handler. An empty appSecret disables
// signature validation.
func NewWebhookHandler(verifyToken, appSecret string, publisher InboundPublisher, opts ...WebhookOption) *WebhookHandler {
	if publisher == nil {
		panic("messaging: publisher cannot be nil")
	}
	h := &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		publisher:   publisher,
		logger:      logging.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Verify handles GET /webhook subscription verification.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")
	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		h.logger.Info("whatsapp webhook verified")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	h.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(w, "Forbidden", http.StatusForbidden)
}

// Receive handles POST /webhook deliveries.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	ctx, span := whatsappTracer.Start(r.Context(), "messaging.whatsapp.webhook")
	defer span.End()
	defer func() {
		h.metrics.ObserveWebhookLatency("whatsapp", h.now().Sub(start).Seconds())
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}
	if h.appSecret != "" && !ValidateSignature(body, r.Header.Get(signatureHeader), h.appSecret) {
		h.logger.Warn("invalid whatsapp signature")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		span.RecordError(errors.New("invalid whatsapp signature"))
		return
	}

	messages, err := ParseWebhook(body, h.now())
	if err != nil {
		h.logger.Error("failed to parse whatsapp webhook", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.Int("clinicai.messages", len(messages)))

	for _, msg := range messages {
		if err := h.accept(ctx, msg); err != nil {
			h.logger.Error("failed to enqueue inbound message", "error", err, "message_id", msg.MessageID, "from", logging.MaskPhone(msg.From))
			http.Error(w, "Failed to schedule reply", http.StatusInternalServerError)
			span.RecordError(err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("EVENT_RECEIVED"))
}

func (h *WebhookHandler) accept(ctx context.Context, msg InboundMessage) error {
	if strings.TrimSpace(msg.Body) == "" && len(msg.Attachments) == 0 {
		h.metrics.ObserveInbound(msg.Type, "ignored")
		return nil
	}
	if h.ledger != nil && msg.MessageID != "" {
		fresh, err := h.ledger.Claim(ctx, msg.MessageID)
		if err != nil {
			// Duplicates are preferable to dropped messages.
			h.logger.Warn("delivery ledger unavailable", "error", err, "message_id", msg.MessageID)
		} else if !fresh {
			h.metrics.ObserveInbound(msg.Type, "duplicate")
			h.logger.Info("duplicate whatsapp delivery dropped", "message_id", msg.MessageID)
			return nil
		}
	}

	publishCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := h.publisher.EnqueueInbound(publishCtx, msg); err != nil {
		h.metrics.ObserveInbound(msg.Type, "failed")
		if h.ledger != nil && msg.MessageID != "" {
			if relErr := h.ledger.Release(context.WithoutCancel(ctx), msg.MessageID); relErr != nil {
				h.logger.Warn("failed to release delivery claim", "error", relErr, "message_id", msg.MessageID)
			}
		}
		return err
	}
	h.metrics.ObserveInbound(msg.Type, "accepted")
	h.logger.Info("whatsapp message accepted", "message_id", msg.MessageID, "number_id", msg.NumberID, "from", logging.MaskPhone(msg.From), "type", msg.Type)
	return nil
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					DisplayPhoneNumber string `json:"display_phone_number"`
					PhoneNumberID      string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []webhookMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type webhookMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image    *webhookMedia `json:"image"`
	Document *webhookMedia `json:"document"`
	Audio    *webhookMedia `json:"audio"`
	Video    *webhookMedia `json:"video"`
	Sticker  *webhookMedia `json:"sticker"`
}

// ParseWebhook extracts user messages from a Cloud API notification.
// Status callbacks carry no messages and yield an empty slice.
func ParseWebhook(body []byte, receivedAt time.Time) ([]InboundMessage, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	var out []InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value
			names := make(map[string]string, len(value.Contacts))
			for _, c := range value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range value.Messages {
				msg := InboundMessage{
					MessageID:     m.ID,
					NumberID:      value.Metadata.PhoneNumberID,
					DisplayNumber: value.Metadata.DisplayPhoneNumber,
					From:          m.From,
					PushName:      names[m.From],
					Type:          m.Type,
					ReceivedAt:    messageTime(m.Timestamp, receivedAt),
				}
				fillContent(&msg, m)
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func fillContent(msg *InboundMessage, m webhookMessage) {
	switch m.Type {
	case TypeText:
		if m.Text != nil {
			msg.Body = m.Text.Body
		}
	case TypeButton:
		if m.Button != nil {
			msg.Body = m.Button.Text
		}
	case TypeInteractive:
		if m.Interactive == nil {
			return
		}
		if m.Interactive.ButtonReply != nil {
			msg.Body = m.Interactive.ButtonReply.Title
		} else if m.Interactive.ListReply != nil {
			msg.Body = m.Interactive.ListReply.Title
		}
	default:
		media := mediaFor(m)
		if media == nil {
			return
		}
		msg.Body = media.Caption
		msg.Attachments = append(msg.Attachments, Attachment{
			MediaID:  media.ID,
			MimeType: media.MimeType,
			Filename: media.Filename,
			Caption:  media.Caption,
		})
	}
}

func mediaFor(m webhookMessage) *webhookMedia {
	switch m.Type {
	case TypeImage:
		return m.Image
	case TypeDocument:
		return m.Document
	case TypeAudio:
		return m.Audio
	case TypeVideo:
		return m.Video
	case TypeSticker:
		return m.Sticker
	}
	return nil
}

func messageTime(raw string, fallback time.Time) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return fallback.UTC()
	}
	return time.Unix(secs, 0).UTC()
}
