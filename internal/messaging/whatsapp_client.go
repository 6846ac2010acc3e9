package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

var whatsappTracer = otel.Tracer("clinicai.internal.messaging")

const (
	maxReplyButtons     = 3
	maxButtonTitleRunes = 20
	maxSendAttempts     = 3
	maxMediaBytes       = 16 << 20
)

// WhatsAppClient talks to the WhatsApp Cloud API.
type WhatsAppClient struct {
	baseURL    string
	version    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
	metrics    *metrics.MessagingMetrics
	sleep      func(time.Duration)
}

// ClientOption configures a WhatsAppClient.
type ClientOption func(*WhatsAppClient)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(w *WhatsAppClient) {
		if c != nil {
			w.httpClient = c
		}
	}
}

func WithClientLogger(l *logging.Logger) ClientOption {
	return func(w *WhatsAppClient) {
		if l != nil {
			w.logger = l
		}
	}
}

func WithClientMetrics(m *metrics.MessagingMetrics) ClientOption {
	return func(w *WhatsAppClient) {
		w.metrics = m
	}
}

// NewWhatsAppClient builds a Cloud API client, e.g.
// NewWhatsAppClient("https://graph.facebook.com", "v22.0", token).
func NewWhatsAppClient(baseURL, version, token string, opts ...ClientOption) *WhatsAppClient {
	c := &WhatsAppClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: strings.Trim(version, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logging.Default(),
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Sender = (*WhatsAppClient)(nil)

// SendMessage sends a text reply. Up to three short options become interactive
// reply buttons; anything larger is rendered as a numbered list.
func (c *WhatsAppClient) SendMessage(ctx context.Context, msg OutboundMessage) error {
	if err := c.validateRecipient(msg.FromNumberID, msg.To); err != nil {
		return err
	}
	if strings.TrimSpace(msg.Text) == "" {
		return errors.New("messaging: text required")
	}

	kind := "text"
	var payload map[string]any
	switch {
	case len(msg.Buttons) == 0:
		payload = textPayload(msg.To, msg.Text)
	case buttonsFit(msg.Buttons):
		kind = "buttons"
		payload = buttonPayload(msg.To, msg.Text, msg.Buttons)
	default:
		payload = textPayload(msg.To, NumberedOptions(msg.Text, msg.Buttons))
	}

	err := c.post(ctx, msg.FromNumberID, msg.To, payload)
	c.metrics.ObserveOutbound(kind, err)
	return err
}

// SendTemplate sends an approved template with body parameters.
func (c *WhatsAppClient) SendTemplate(ctx context.Context, msg TemplateMessage) error {
	if err := c.validateRecipient(msg.FromNumberID, msg.To); err != nil {
		return err
	}
	if msg.Name == "" || msg.Language == "" {
		return errors.New("messaging: template name and language required")
	}
	params := make([]map[string]string, 0, len(msg.Parameters))
	for _, p := range msg.Parameters {
		params = append(params, map[string]string{"type": "text", "text": p})
	}
	template := map[string]any{
		"name":     msg.Name,
		"language": map[string]string{"code": msg.Language},
	}
	if len(params) > 0 {
		template["components"] = []map[string]any{{"type": "body", "parameters": params}}
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                msg.To,
		"type":              "template",
		"template":          template,
	}
	err := c.post(ctx, msg.FromNumberID, msg.To, payload)
	c.metrics.ObserveOutbound("template", err)
	return err
}

// Media is a downloaded inbound attachment.
type Media struct {
	Data     []byte
	MimeType string
}

// FetchMedia resolves a media id to its download URL and fetches the bytes.
func (c *WhatsAppClient) FetchMedia(ctx context.Context, mediaID string) (Media, error) {
	if strings.TrimSpace(mediaID) == "" {
		return Media{}, errors.New("messaging: media id required")
	}
	ctx, span := whatsappTracer.Start(ctx, "messaging.whatsapp.fetch_media")
	defer span.End()

	body, err := c.get(ctx, fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, mediaID), 8192)
	if err != nil {
		span.RecordError(err)
		return Media{}, err
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return Media{}, fmt.Errorf("messaging: decode media metadata: %w", err)
	}
	if meta.URL == "" {
		return Media{}, errors.New("messaging: media url missing")
	}
	data, err := c.get(ctx, meta.URL, maxMediaBytes)
	if err != nil {
		span.RecordError(err)
		return Media{}, err
	}
	return Media{Data: data, MimeType: meta.MimeType}, nil
}

func (c *WhatsAppClient) validateRecipient(numberID, to string) error {
	if c.token == "" {
		return errors.New("messaging: whatsapp access token missing")
	}
	if numberID == "" {
		return errors.New("messaging: sender number id required")
	}
	if to == "" {
		return errors.New("messaging: to required")
	}
	return nil
}

func (c *WhatsAppClient) post(ctx context.Context, numberID, to string, payload map[string]any) error {
	ctx, span := whatsappTracer.Start(ctx, "messaging.whatsapp.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicai.number_id", numberID),
		attribute.String("clinicai.to", logging.MaskPhone(to)),
	)

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("messaging: marshal whatsapp payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, numberID)

	var lastErr error
	for attempt := 1; attempt <= maxSendAttempts; attempt++ {
		retry, err := c.postOnce(ctx, endpoint, bodyBytes)
		if err == nil {
			c.logger.Debug("whatsapp message sent", "number_id", numberID, "to", logging.MaskPhone(to))
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		if attempt < maxSendAttempts {
			c.sleep(time.Duration(200+rand.Intn(300)) * time.Millisecond)
		}
	}

	span.RecordError(lastErr)
	c.logger.Error("failed to send whatsapp message", "error", lastErr, "number_id", numberID, "to", logging.MaskPhone(to))
	return lastErr
}

// postOnce reports whether a failure is worth retrying.
func (c *WhatsAppClient) postOnce(ctx context.Context, endpoint string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return true, fmt.Errorf("messaging: whatsapp request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, nil
	}
	retry := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return retry, fmt.Errorf("messaging: whatsapp send failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

func (c *WhatsAppClient) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("messaging: whatsapp request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("messaging: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("messaging: whatsapp get failed: status %d", resp.StatusCode)
	}
	return body, nil
}

func textPayload(to, text string) map[string]any {
	return map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        text,
		},
	}
}

func buttonPayload(to, text string, options []string) map[string]any {
	buttons := make([]map[string]any, 0, len(options))
	for _, title := range options {
		buttons = append(buttons, map[string]any{
			"type":  "reply",
			"reply": map[string]string{"id": title, "title": title},
		})
	}
	return map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]string{"text": text},
			"action": map[string]any{"buttons": buttons},
		},
	}
}

func buttonsFit(options []string) bool {
	if len(options) > maxReplyButtons {
		return false
	}
	for _, title := range options {
		if title == "" || utf8.RuneCountInString(title) > maxButtonTitleRunes {
			return false
		}
	}
	return true
}

// NumberedOptions appends the options as a 1-based numbered list.
func NumberedOptions(text string, options []string) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n")
	for i, opt := range options {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt)
	}
	return b.String()
}
