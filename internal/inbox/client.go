// Package inbox mirrors WhatsApp conversations into a Chatwoot account and
// handles the webhooks Chatwoot sends back when agents take over.
package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Direction of a mirrored message relative to the clinic.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// BotPrefix marks outgoing messages written by the assistant so the webhook
// does not relay them back to WhatsApp.
const BotPrefix = "[BOT] "

// Inbox is a Chatwoot inbox.
type Inbox struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Contact is a Chatwoot contact.
type Contact struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	PhoneNumber  string   `json:"phone_number"`
	PhoneNumbers []string `json:"phone_numbers,omitempty"`
}

// Conversation is a Chatwoot conversation.
type Conversation struct {
	ID      int64  `json:"id"`
	InboxID int64  `json:"inbox_id"`
	Status  string `json:"status"`
}

// Client calls the Chatwoot application API.
type Client struct {
	endpoint   string
	accountID  string
	token      string
	httpClient *http.Client
}

// NewClient validates the credentials and builds a client.
func NewClient(endpoint, accountID, token string, httpClient *http.Client) (*Client, error) {
	switch {
	case strings.TrimSpace(accountID) == "":
		return nil, errors.New("inbox: account id required")
	case strings.TrimSpace(token) == "":
		return nil, errors.New("inbox: api token required")
	case strings.TrimSpace(endpoint) == "":
		return nil, errors.New("inbox: endpoint required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		accountID:  accountID,
		token:      token,
		httpClient: httpClient,
	}, nil
}

// Endpoint returns the configured base URL.
func (c *Client) Endpoint() string { return c.endpoint }

// FormatPhone returns the number with a leading plus.
func FormatPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" || strings.HasPrefix(phone, "+") {
		return phone
	}
	return "+" + phone
}

func (c *Client) FindInbox(ctx context.Context, name string) (*Inbox, error) {
	var resp struct {
		Payload []Inbox `json:"payload"`
	}
	if err := c.do(ctx, http.MethodGet, "inboxes", nil, &resp); err != nil {
		return nil, fmt.Errorf("inbox: list inboxes: %w", err)
	}
	for i := range resp.Payload {
		if resp.Payload[i].Name == name {
			return &resp.Payload[i], nil
		}
	}
	return nil, nil
}

func (c *Client) CreateInbox(ctx context.Context, name string) (*Inbox, error) {
	body := map[string]any{
		"name": name,
		"channel": map[string]string{
			"type":        "api",
			"webhook_url": "",
		},
	}
	var inbox Inbox
	if err := c.do(ctx, http.MethodPost, "inboxes", body, &inbox); err != nil {
		return nil, fmt.Errorf("inbox: create inbox: %w", err)
	}
	return &inbox, nil
}

// FindOrCreateInbox returns the API-channel inbox with the given name.
func (c *Client) FindOrCreateInbox(ctx context.Context, name string) (*Inbox, error) {
	inbox, err := c.FindInbox(ctx, name)
	if err != nil {
		return nil, err
	}
	if inbox != nil {
		return inbox, nil
	}
	return c.CreateInbox(ctx, name)
}

// SearchContact returns the contact whose phone matches exactly, or nil.
func (c *Client) SearchContact(ctx context.Context, phone string) (*Contact, error) {
	phone = FormatPhone(phone)
	var resp struct {
		Payload []Contact `json:"payload"`
	}
	if err := c.do(ctx, http.MethodGet, "contacts/search?q="+url.QueryEscape(phone), nil, &resp); err != nil {
		return nil, fmt.Errorf("inbox: search contact: %w", err)
	}
	for i := range resp.Payload {
		contact := resp.Payload[i]
		if contact.PhoneNumber == phone {
			return &contact, nil
		}
		for _, p := range contact.PhoneNumbers {
			if p == phone {
				return &contact, nil
			}
		}
	}
	return nil, nil
}

func (c *Client) CreateContact(ctx context.Context, inboxID int64, phone, name string) (*Contact, error) {
	phone = FormatPhone(phone)
	if strings.TrimSpace(name) == "" {
		name = phone
	}
	body := map[string]any{
		"inbox_id":     inboxID,
		"name":         name,
		"phone_number": phone,
		"identifier":   phone,
	}
	var resp struct {
		Payload struct {
			Contact *Contact `json:"contact"`
		} `json:"payload"`
	}
	if err := c.do(ctx, http.MethodPost, "contacts", body, &resp); err != nil {
		return nil, fmt.Errorf("inbox: create contact: %w", err)
	}
	if resp.Payload.Contact == nil {
		return nil, errors.New("inbox: create contact: unexpected response")
	}
	return resp.Payload.Contact, nil
}

func (c *Client) FindOrCreateContact(ctx context.Context, inboxID int64, phone, name string) (*Contact, error) {
	contact, err := c.SearchContact(ctx, phone)
	if err != nil {
		return nil, err
	}
	if contact != nil {
		return contact, nil
	}
	return c.CreateContact(ctx, inboxID, phone, name)
}

// FindOpenConversation returns the newest open or pending conversation of
// the contact in the inbox, or nil.
func (c *Client) FindOpenConversation(ctx context.Context, contactID, inboxID int64) (*Conversation, error) {
	var resp struct {
		Payload []Conversation `json:"payload"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("contacts/%d/conversations", contactID), nil, &resp)
	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("inbox: list conversations: %w", err)
	}
	var best *Conversation
	for i := range resp.Payload {
		conv := resp.Payload[i]
		if conv.InboxID != inboxID || (conv.Status != "open" && conv.Status != "pending") {
			continue
		}
		if best == nil || conv.ID > best.ID {
			best = &conv
		}
	}
	return best, nil
}

func (c *Client) CreateConversation(ctx context.Context, inboxID, contactID int64, phone string) (*Conversation, error) {
	phone = FormatPhone(phone)
	body := map[string]any{
		"inbox_id":     inboxID,
		"contact_id":   contactID,
		"source_id":    strings.TrimPrefix(phone, "+"),
		"phone_number": phone,
	}
	var conv Conversation
	if err := c.do(ctx, http.MethodPost, "conversations", body, &conv); err != nil {
		return nil, fmt.Errorf("inbox: create conversation: %w", err)
	}
	if conv.ID == 0 {
		return nil, errors.New("inbox: create conversation: unexpected response")
	}
	return &conv, nil
}

func (c *Client) FindOrCreateConversation(ctx context.Context, inboxID, contactID int64, phone string) (*Conversation, error) {
	conv, err := c.FindOpenConversation(ctx, contactID, inboxID)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}
	return c.CreateConversation(ctx, inboxID, contactID, phone)
}

// CreateMessage appends a public message. Outgoing text gets BotPrefix.
func (c *Client) CreateMessage(ctx context.Context, conversationID int64, text string, direction Direction) error {
	senderType := "contact"
	if direction == Outgoing {
		senderType = "bot"
		if !strings.HasPrefix(text, BotPrefix) {
			text = BotPrefix + text
		}
	}
	body := map[string]any{
		"content":      text,
		"message_type": string(direction),
		"private":      false,
		"sender_type":  senderType,
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("conversations/%d/messages", conversationID), body, nil); err != nil {
		return fmt.Errorf("inbox: create message: %w", err)
	}
	return nil
}

// CreatePrivateNote posts a note visible only to agents.
func (c *Client) CreatePrivateNote(ctx context.Context, conversationID int64, text string) error {
	body := map[string]any{
		"content":      text,
		"message_type": string(Outgoing),
		"private":      true,
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("conversations/%d/messages", conversationID), body, nil); err != nil {
		return fmt.Errorf("inbox: create note: %w", err)
	}
	return nil
}

// StatusError is a non-2xx answer from Chatwoot.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chatwoot status %d: %s", e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%s/%s", c.endpoint, c.accountID, strings.TrimPrefix(path, "/"))
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("api_access_token", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
