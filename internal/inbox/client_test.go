package inbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatwootStub struct {
	mu       sync.Mutex
	messages []map[string]any
	created  []string
}

func (s *chatwootStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("api_access_token") != "tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	base := "/api/v1/accounts/7/"
	switch {
	case r.Method == http.MethodGet && r.URL.Path == base+"inboxes":
		_, _ = w.Write([]byte(`{"payload":[{"id":3,"name":"Other"},{"id":4,"name":"ClinicAI"}]}`))
	case r.Method == http.MethodGet && r.URL.Path == base+"contacts/search":
		if r.URL.Query().Get("q") == "+34600111222" {
			_, _ = w.Write([]byte(`{"payload":[{"id":11,"name":"Lucía","phone_number":"+34600111222"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"payload":[]}`))
	case r.Method == http.MethodPost && r.URL.Path == base+"contacts":
		s.created = append(s.created, "contact")
		_, _ = w.Write([]byte(`{"payload":{"contact":{"id":12,"name":"Nuevo","phone_number":"+34600999888"}}}`))
	case r.Method == http.MethodGet && r.URL.Path == base+"contacts/11/conversations":
		_, _ = w.Write([]byte(`{"payload":[
			{"id":20,"inbox_id":4,"status":"open"},
			{"id":25,"inbox_id":4,"status":"pending"},
			{"id":30,"inbox_id":4,"status":"resolved"},
			{"id":40,"inbox_id":9,"status":"open"}]}`))
	case r.Method == http.MethodGet && r.URL.Path == base+"contacts/12/conversations":
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPost && r.URL.Path == base+"conversations":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.created = append(s.created, "conversation:"+body["source_id"].(string))
		_, _ = w.Write([]byte(`{"id":50,"inbox_id":4,"status":"open"}`))
	case r.Method == http.MethodPost && r.URL.Path == base+"conversations/25/messages":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.messages = append(s.messages, body)
		_, _ = w.Write([]byte(`{"id":1}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newStubClient(t *testing.T) (*Client, *chatwootStub) {
	t.Helper()
	stub := &chatwootStub{}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL+"/", "7", "tok", nil)
	require.NoError(t, err)
	return client, stub
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient("", "7", "tok", nil)
	assert.Error(t, err)
	_, err = NewClient("http://x", "", "tok", nil)
	assert.Error(t, err)
	_, err = NewClient("http://x", "7", "", nil)
	assert.Error(t, err)
}

func TestFindOrCreateInboxFindsByName(t *testing.T) {
	client, _ := newStubClient(t)
	inbox, err := client.FindOrCreateInbox(context.Background(), "ClinicAI")
	require.NoError(t, err)
	assert.Equal(t, int64(4), inbox.ID)
}

func TestFindOrCreateContact(t *testing.T) {
	client, stub := newStubClient(t)

	existing, err := client.FindOrCreateContact(context.Background(), 4, "34600111222", "Lucía")
	require.NoError(t, err)
	assert.Equal(t, int64(11), existing.ID)
	assert.Empty(t, stub.created)

	created, err := client.FindOrCreateContact(context.Background(), 4, "+34600999888", "Nuevo")
	require.NoError(t, err)
	assert.Equal(t, int64(12), created.ID)
	assert.Equal(t, []string{"contact"}, stub.created)
}

func TestFindOpenConversationPicksNewestOpenInInbox(t *testing.T) {
	client, _ := newStubClient(t)
	conv, err := client.FindOpenConversation(context.Background(), 11, 4)
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, int64(25), conv.ID)
}

func TestFindOrCreateConversationCreatesWhenMissing(t *testing.T) {
	client, stub := newStubClient(t)
	conv, err := client.FindOrCreateConversation(context.Background(), 4, 12, "+34600999888")
	require.NoError(t, err)
	assert.Equal(t, int64(50), conv.ID)
	assert.Equal(t, []string{"conversation:34600999888"}, stub.created)
}

func TestCreateMessagePrefixesBotReplies(t *testing.T) {
	client, stub := newStubClient(t)
	require.NoError(t, client.CreateMessage(context.Background(), 25, "Hola", Outgoing))
	require.NoError(t, client.CreateMessage(context.Background(), 25, "Quiero cita", Incoming))

	require.Len(t, stub.messages, 2)
	assert.Equal(t, "[BOT] Hola", stub.messages[0]["content"])
	assert.Equal(t, "outgoing", stub.messages[0]["message_type"])
	assert.Equal(t, "bot", stub.messages[0]["sender_type"])
	assert.Equal(t, "Quiero cita", stub.messages[1]["content"])
	assert.Equal(t, "contact", stub.messages[1]["sender_type"])
}

func TestStatusErrorSurfaced(t *testing.T) {
	client, _ := newStubClient(t)
	err := client.CreateMessage(context.Background(), 999, "x", Incoming)
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusNotFound, status.Code)
}
