package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
)

// ConfirmationIntent is the answer to "is the user confirming or cancelling
// their upcoming appointment?".
type ConfirmationIntent string

const (
	ConfirmationConfirm ConfirmationIntent = "CONFIRMAR"
	ConfirmationCancel  ConfirmationIntent = "CANCELAR"
	ConfirmationOther   ConfirmationIntent = "OTRO"
)

// Intent is the general classification of a message.
type Intent string

const (
	IntentAppointment Intent = "CITA"
	IntentFAQ         Intent = "FAQ"
	IntentUnknown     Intent = "OTRO"
)

var (
	reminderConfirmReplies = []string{"sí, confirmo", "si, confirmo", "confirmo"}
	reminderCancelReplies  = []string{"no puedo asistir", "no puedo", "cancelar cita", "cancelo"}
)

// ReminderReply maps the exact reply texts offered by the reminder template.
func ReminderReply(text string) (ConfirmationIntent, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	for _, r := range reminderConfirmReplies {
		if normalized == r {
			return ConfirmationConfirm, true
		}
	}
	for _, r := range reminderCancelReplies {
		if normalized == r {
			return ConfirmationCancel, true
		}
	}
	return "", false
}

// ConfirmationClassifier decides whether a message confirms or cancels.
type ConfirmationClassifier interface {
	ClassifyConfirmation(ctx context.Context, text string) (ConfirmationIntent, error)
}

// IntentClassifier decides what a message is about.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, clinicName, clientName string, history []ChatMessage) (Intent, error)
}

// LLMClassifier implements both classifiers on top of the language model.
type LLMClassifier struct {
	llm     LLMClient
	model   string
	metrics *metrics.ConversationMetrics
}

func NewLLMClassifier(llm LLMClient, model string, m *metrics.ConversationMetrics) *LLMClassifier {
	if llm == nil {
		panic("conversation: llm client required")
	}
	return &LLMClassifier{llm: llm, model: model, metrics: m}
}

func (c *LLMClassifier) ClassifyConfirmation(ctx context.Context, text string) (ConfirmationIntent, error) {
	if intent, ok := ReminderReply(text); ok {
		c.metrics.ObserveIntent("confirmation", string(intent))
		return intent, nil
	}
	prompt := `Analiza el siguiente mensaje y determina si el usuario está confirmando o aceptando una cita médica.
Responde únicamente con una de estas palabras:
- "CONFIRMAR" si el mensaje indica confirmación, aceptación o acuerdo (ej: "sí", "vale", "perfecto", "nos vemos", "confirmo", "de acuerdo", "ok", "está bien")
- "CANCELAR" si el mensaje indica cancelación o rechazo (ej: "no puedo", "cancelo", "no podré", "tengo que cancelar")
- "OTRO" si el mensaje no está relacionado con confirmar/cancelar una cita`

	answer, err := c.complete(ctx, "confirmation", prompt, []ChatMessage{{Role: ChatRoleUser, Content: fmt.Sprintf("Mensaje del usuario: %q", text)}})
	if err != nil {
		return ConfirmationOther, fmt.Errorf("conversation: classify confirmation: %w", err)
	}
	intent := ConfirmationOther
	switch normalizeLabel(answer) {
	case string(ConfirmationConfirm):
		intent = ConfirmationConfirm
	case string(ConfirmationCancel):
		intent = ConfirmationCancel
	}
	c.metrics.ObserveIntent("confirmation", string(intent))
	return intent, nil
}

func (c *LLMClassifier) ClassifyIntent(ctx context.Context, clinicName, clientName string, history []ChatMessage) (Intent, error) {
	prompt := fmt.Sprintf(`Eres el asistente virtual de WhatsApp de %s, una clínica de fisioterapia.
Clasifica la intención del ÚLTIMO mensaje del usuario teniendo en cuenta la conversación.
Responde únicamente con una palabra:
- "CITA" si quiere pedir, reservar, agendar o cambiar una cita.
- "FAQ" si hace una pregunta sobre la clínica: horarios, precios, tratamientos, ubicación, servicios o similares.
- "OTRO" si no es ninguna de las anteriores o no se entiende.`, clinicName)
	if clientName != "" {
		prompt += fmt.Sprintf("\n\nContexto adicional: El cliente se llama %s y ya está registrado en el sistema.", clientName)
	}

	answer, err := c.complete(ctx, "intent", prompt, history)
	if err != nil {
		return IntentUnknown, fmt.Errorf("conversation: classify intent: %w", err)
	}
	intent := IntentUnknown
	switch normalizeLabel(answer) {
	case string(IntentAppointment):
		intent = IntentAppointment
	case string(IntentFAQ):
		intent = IntentFAQ
	}
	c.metrics.ObserveIntent("intent", string(intent))
	return intent, nil
}

func (c *LLMClassifier) complete(ctx context.Context, purpose, prompt string, history []ChatMessage) (string, error) {
	start := time.Now()
	answer, err := completeText(ctx, c.llm, c.model, prompt, history)
	c.metrics.ObserveLLM(purpose, time.Since(start).Seconds(), err)
	return answer, err
}

// normalizeLabel upper-cases the first word of a model answer and strips
// quotes and punctuation.
func normalizeLabel(answer string) string {
	answer = strings.ToUpper(strings.TrimSpace(answer))
	answer = strings.Trim(answer, "\"'`.¡!¿? ")
	if i := strings.IndexAny(answer, " \n\t.,"); i > 0 {
		answer = answer[:i]
	}
	return answer
}
