package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLLM struct {
	answers  []string
	err      error
	requests []LLMRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return LLMResponse{}, s.err
	}
	if len(s.answers) == 0 {
		return LLMResponse{}, nil
	}
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return LLMResponse{Text: answer}, nil
}

func TestReminderReply(t *testing.T) {
	tests := map[string]struct {
		intent ConfirmationIntent
		ok     bool
	}{
		"Sí, confirmo":      {ConfirmationConfirm, true},
		" confirmo ":        {ConfirmationConfirm, true},
		"No puedo asistir":  {ConfirmationCancel, true},
		"cancelar cita":     {ConfirmationCancel, true},
		"sí confirmo":       {"", false},
		"quiero otra fecha": {"", false},
	}
	for text, want := range tests {
		intent, ok := ReminderReply(text)
		assert.Equal(t, want.ok, ok, text)
		assert.Equal(t, want.intent, intent, text)
	}
}

func TestLLMClassifier_ClassifyConfirmation(t *testing.T) {
	t.Run("exact reply skips model", func(t *testing.T) {
		llm := &scriptedLLM{}
		c := NewLLMClassifier(llm, "gpt-4o-mini", nil)

		intent, err := c.ClassifyConfirmation(context.Background(), "Confirmo")
		require.NoError(t, err)
		assert.Equal(t, ConfirmationConfirm, intent)
		assert.Empty(t, llm.requests)
	})

	t.Run("model labels are normalised", func(t *testing.T) {
		for answer, want := range map[string]ConfirmationIntent{
			"CONFIRMAR":        ConfirmationConfirm,
			"\"cancelar\".":    ConfirmationCancel,
			"Cancelar la cita": ConfirmationCancel,
			"no estoy seguro":  ConfirmationOther,
			"":                 ConfirmationOther,
		} {
			llm := &scriptedLLM{answers: []string{answer}}
			c := NewLLMClassifier(llm, "gpt-4o-mini", nil)
			intent, err := c.ClassifyConfirmation(context.Background(), "vale, allí estaré")
			require.NoError(t, err)
			assert.Equal(t, want, intent, "answer %q", answer)
			require.Len(t, llm.requests, 1)
			assert.Contains(t, llm.requests[0].Messages[0].Content, "vale, allí estaré")
		}
	})

	t.Run("model error", func(t *testing.T) {
		c := NewLLMClassifier(&scriptedLLM{err: errors.New("503")}, "m", nil)
		intent, err := c.ClassifyConfirmation(context.Background(), "vale")
		assert.Error(t, err)
		assert.Equal(t, ConfirmationOther, intent)
	})
}

func TestLLMClassifier_ClassifyIntent(t *testing.T) {
	llm := &scriptedLLM{answers: []string{"cita"}}
	c := NewLLMClassifier(llm, "gpt-4o-mini", nil)
	history := []ChatMessage{{Role: ChatRoleUser, Content: "hola"}, {Role: ChatRoleUser, Content: "quiero reservar"}}

	intent, err := c.ClassifyIntent(context.Background(), testClinic, "Ana García", history)
	require.NoError(t, err)
	assert.Equal(t, IntentAppointment, intent)

	req := llm.requests[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, history, req.Messages)
	require.Len(t, req.System, 1)
	assert.Contains(t, req.System[0], testClinic)
	assert.Contains(t, req.System[0], "Ana García")
}

func TestLLMClassifier_ClassifyIntentWithoutClient(t *testing.T) {
	llm := &scriptedLLM{answers: []string{"FAQ"}}
	c := NewLLMClassifier(llm, "m", nil)

	intent, err := c.ClassifyIntent(context.Background(), testClinic, "", nil)
	require.NoError(t, err)
	assert.Equal(t, IntentFAQ, intent)
	assert.NotContains(t, llm.requests[0].System[0], "Contexto adicional")
}

type stubPrompts struct {
	prompt string
	err    error
}

func (s stubPrompts) TenantPrompt(context.Context, string) (string, error) { return s.prompt, s.err }

func TestLLMFAQResponder_Answer(t *testing.T) {
	t.Run("tenant prompt with client name", func(t *testing.T) {
		llm := &scriptedLLM{answers: []string{"  Abrimos de lunes a viernes, Ana. "}}
		f := NewLLMFAQResponder(llm, "m", stubPrompts{prompt: "Eres la recepción. Cliente: [Nombre Cliente]."}, nil)

		answer, err := f.Answer(context.Background(), testTenantID, "Ana", "¿Qué horario tenéis?")
		require.NoError(t, err)
		assert.Equal(t, "Abrimos de lunes a viernes, Ana.", answer)
		assert.Equal(t, "Eres la recepción. Cliente: Ana.", llm.requests[0].System[0])
	})

	t.Run("fallback prompt for anonymous client", func(t *testing.T) {
		llm := &scriptedLLM{answers: []string{"Llama a la clínica para más detalles."}}
		f := NewLLMFAQResponder(llm, "m", stubPrompts{}, nil)

		_, err := f.Answer(context.Background(), testTenantID, "", "¿precio?")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(llm.requests[0].System[0], "Actúas como recepcionista"))
	})

	t.Run("empty completion is an error", func(t *testing.T) {
		f := NewLLMFAQResponder(&scriptedLLM{answers: []string{"   "}}, "m", stubPrompts{}, nil)
		_, err := f.Answer(context.Background(), testTenantID, "", "¿precio?")
		assert.Error(t, err)
	})

	t.Run("prompt lookup failure", func(t *testing.T) {
		f := NewLLMFAQResponder(&scriptedLLM{}, "m", stubPrompts{err: errors.New("db down")}, nil)
		_, err := f.Answer(context.Background(), testTenantID, "", "¿precio?")
		assert.Error(t, err)
	})
}

func TestLLMDateExtractor_Extract(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   time.Time
		ok     bool
	}{
		{"iso with millis", "2025-03-15T17:00:00.000", time.Date(2025, 3, 15, 17, 0, 0, 0, madrid), true},
		{"quoted", "\"2025-03-12T10:00:00\"", time.Date(2025, 3, 12, 10, 0, 0, 0, madrid), true},
		{"false", "false", time.Time{}, false},
		{"unparseable", "el jueves", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &scriptedLLM{answers: []string{tt.answer}}
			e := NewLLMDateExtractor(llm, "m", madrid)

			at, ok, err := e.Extract(context.Background(), "texto", testNow)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, at.Equal(tt.want), "got %v", at)
			}
			assert.Contains(t, llm.requests[0].System[0], "2025-03-10 (lunes)")
		})
	}
}

func TestLLMDateExtractor_ModelError(t *testing.T) {
	e := NewLLMDateExtractor(&scriptedLLM{err: errors.New("timeout")}, "m", madrid)
	_, ok, err := e.Extract(context.Background(), "mañana", testNow)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestExplicitAndDefaultTime(t *testing.T) {
	for text, want := range map[string]bool{
		"a las 10:00":          true,
		"9.30":                 true,
		"a las 5pm":            true,
		"a las 5 p. m.":        true,
		"a las 7 PM":           true,
		"el 10 ambos":          false,
		"a las 9 ampliación":   false,
		"el 3 pmr":             false,
		"el 15 de marzo":       false,
		"mañana a las 10":      false,
		"por la tarde, sala 2": false,
	} {
		assert.Equal(t, want, HasExplicitTime(text), text)
	}
	assert.True(t, IsDefaultTime(time.Date(2025, 3, 15, 10, 0, 0, 0, madrid)))
	assert.False(t, IsDefaultTime(time.Date(2025, 3, 15, 10, 30, 0, 0, madrid)))
}

func TestFallbackLLMClient(t *testing.T) {
	t.Run("primary succeeds", func(t *testing.T) {
		primary := &scriptedLLM{answers: []string{"uno"}}
		fallback := &scriptedLLM{answers: []string{"dos"}}
		c := NewFallbackLLMClient(primary, fallback, "fallback-model", nil)

		resp, err := c.Complete(context.Background(), LLMRequest{Model: "primary-model"})
		require.NoError(t, err)
		assert.Equal(t, "uno", resp.Text)
		assert.Empty(t, fallback.requests)
	})

	t.Run("fallback swaps model", func(t *testing.T) {
		primary := &scriptedLLM{err: errors.New("throttled")}
		fallback := &scriptedLLM{answers: []string{"dos"}}
		c := NewFallbackLLMClient(primary, fallback, "fallback-model", nil)

		resp, err := c.Complete(context.Background(), LLMRequest{Model: "primary-model"})
		require.NoError(t, err)
		assert.Equal(t, "dos", resp.Text)
		assert.Equal(t, "fallback-model", fallback.requests[0].Model)
	})

	t.Run("no fallback returns primary error", func(t *testing.T) {
		c := NewFallbackLLMClient(&scriptedLLM{err: errors.New("throttled")}, nil, "", nil)
		_, err := c.Complete(context.Background(), LLMRequest{})
		assert.EqualError(t, err, "throttled")
	})
}
