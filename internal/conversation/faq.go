package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
)

const fallbackFAQPrompt = `Actúas como recepcionista virtual de una clínica de fisioterapia. Tu tarea es responder preguntas frecuentes de forma clara, profesional y concisa.

Normas de respuesta:
- Contesta en una sola frase.
- Sé claro, útil y cordial.
- Si conoces el nombre del cliente ([Nombre Cliente]), úsalo para hacer la conversación más personal y amigable.
- Si preguntan por reservas, responde: "Para reservar, puedes escribirnos por WhatsApp."
- Si algo requiere más información, responde: "Llama a la clínica para más detalles."

Responde siempre con una frase breve, fiel a la información y sin inventar.`

const clientNamePlaceholder = "[Nombre Cliente]"

// PromptStore returns the tenant's FAQ prompt, or "" when none is set.
type PromptStore interface {
	TenantPrompt(ctx context.Context, tenantID string) (string, error)
}

// FAQResponder answers free-form questions about the clinic.
type FAQResponder interface {
	Answer(ctx context.Context, tenantID, clientName, question string) (string, error)
}

// LLMFAQResponder answers with one completion over the tenant prompt.
type LLMFAQResponder struct {
	llm     LLMClient
	model   string
	prompts PromptStore
	metrics *metrics.ConversationMetrics
}

func NewLLMFAQResponder(llm LLMClient, model string, prompts PromptStore, m *metrics.ConversationMetrics) *LLMFAQResponder {
	if llm == nil {
		panic("conversation: llm client required")
	}
	if prompts == nil {
		panic("conversation: prompt store required")
	}
	return &LLMFAQResponder{llm: llm, model: model, prompts: prompts, metrics: m}
}

func (f *LLMFAQResponder) Answer(ctx context.Context, tenantID, clientName, question string) (string, error) {
	prompt, err := f.prompts.TenantPrompt(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("conversation: load faq prompt: %w", err)
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = fallbackFAQPrompt
	}
	if strings.TrimSpace(clientName) == "" {
		clientName = "estimado/a cliente"
	}
	prompt = strings.ReplaceAll(prompt, clientNamePlaceholder, clientName)

	start := time.Now()
	answer, err := completeText(ctx, f.llm, f.model, prompt, []ChatMessage{{Role: ChatRoleUser, Content: question}})
	f.metrics.ObserveLLM("faq", time.Since(start).Seconds(), err)
	if err != nil {
		return "", fmt.Errorf("conversation: answer faq: %w", err)
	}
	if answer == "" {
		return "", fmt.Errorf("conversation: answer faq: empty completion")
	}
	return answer, nil
}
