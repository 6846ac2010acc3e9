package inbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatwoot struct {
	inboxCalls    int
	lookups       int
	rejectConvIDs map[int64]bool
	messages      []string
	failContact   error
}

func (f *fakeChatwoot) FindOrCreateInbox(context.Context, string) (*Inbox, error) {
	f.inboxCalls++
	return &Inbox{ID: 4, Name: "ClinicAI"}, nil
}

func (f *fakeChatwoot) FindOrCreateContact(context.Context, int64, string, string) (*Contact, error) {
	if f.failContact != nil {
		return nil, f.failContact
	}
	return &Contact{ID: 11}, nil
}

func (f *fakeChatwoot) FindOrCreateConversation(context.Context, int64, int64, string) (*Conversation, error) {
	f.lookups++
	return &Conversation{ID: 25}, nil
}

func (f *fakeChatwoot) CreateMessage(_ context.Context, conversationID int64, text string, _ Direction) error {
	if f.rejectConvIDs[conversationID] {
		return errors.New("gone")
	}
	f.messages = append(f.messages, text)
	return nil
}

func TestChatwootMirrorCachesInbox(t *testing.T) {
	api := &fakeChatwoot{}
	m := NewChatwootMirror(api, "ClinicAI", nil)

	id, err := m.Record(context.Background(), Entry{Phone: "34600111222", Text: "Hola", Direction: Incoming})
	require.NoError(t, err)
	assert.Equal(t, int64(25), id)
	_, err = m.Record(context.Background(), Entry{Phone: "34600111333", Text: "Hola", Direction: Incoming})
	require.NoError(t, err)

	assert.Equal(t, 1, api.inboxCalls)
	assert.Equal(t, 2, api.lookups)
}

func TestChatwootMirrorReusesKnownConversation(t *testing.T) {
	api := &fakeChatwoot{}
	m := NewChatwootMirror(api, "", nil)

	id, err := m.Record(context.Background(), Entry{Phone: "34600111222", Text: "Respuesta", Direction: Outgoing, ConversationID: 25})
	require.NoError(t, err)
	assert.Equal(t, int64(25), id)
	assert.Zero(t, api.lookups)
}

func TestChatwootMirrorRecoversFromStaleConversation(t *testing.T) {
	api := &fakeChatwoot{rejectConvIDs: map[int64]bool{7: true}}
	m := NewChatwootMirror(api, "", nil)

	id, err := m.Record(context.Background(), Entry{Phone: "34600111222", Text: "Hola", Direction: Incoming, ConversationID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(25), id)
	assert.Equal(t, []string{"Hola"}, api.messages)
}

func TestChatwootMirrorPropagatesErrors(t *testing.T) {
	api := &fakeChatwoot{failContact: errors.New("chatwoot down")}
	m := NewChatwootMirror(api, "", nil)
	_, err := m.Record(context.Background(), Entry{Phone: "34600111222", Text: "Hola", Direction: Incoming})
	assert.Error(t, err)
}

func TestNoopMirror(t *testing.T) {
	id, err := NoopMirror{}.Record(context.Background(), Entry{ConversationID: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
}
