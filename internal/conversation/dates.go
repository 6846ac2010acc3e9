package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	defaultHour     = 10
	extractorFalse  = "false"
	dateLayoutLocal = "2006-01-02"
)

var explicitTimePattern = regexp.MustCompile(`(?i)\b\d{1,2}[:.]\d{2}\b|\b\d{1,2}\s*(?:(?:am|pm)\b|a\.\s?m\.|p\.\s?m\.)`)

// HasExplicitTime reports whether text carries a clock time token such as
// "10:00", "9.30" or "5pm".
func HasExplicitTime(text string) bool {
	return explicitTimePattern.MatchString(text)
}

// IsDefaultTime reports whether t sits on the extractor's sentinel hour.
func IsDefaultTime(t time.Time) bool {
	return t.Hour() == defaultHour && t.Minute() == 0
}

// DateExtractor turns free text into a clinic-local instant. ok is false when
// the text holds no usable date.
type DateExtractor interface {
	Extract(ctx context.Context, text string, now time.Time) (at time.Time, ok bool, err error)
}

// LLMDateExtractor delegates extraction to the language model.
type LLMDateExtractor struct {
	llm   LLMClient
	model string
	loc   *time.Location
}

func NewLLMDateExtractor(llm LLMClient, model string, loc *time.Location) *LLMDateExtractor {
	if llm == nil {
		panic("conversation: llm client required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &LLMDateExtractor{llm: llm, model: model, loc: loc}
}

func (e *LLMDateExtractor) Extract(ctx context.Context, text string, now time.Time) (time.Time, bool, error) {
	today := now.In(e.loc)
	prompt := fmt.Sprintf(`La fecha de hoy es: %s (%s), zona horaria %s.
Te voy a dar un texto. Extrae la fecha y la hora y responde EXCLUSIVAMENTE con ellas en formato ISO, sin zona horaria: "AAAA-MM-DDTHH:MM:SS.000".
Si el texto no indica la hora usa las 10:00.
Ejemplo: "el jueves 20 de marzo a las 12" -> "%d-03-20T12:00:00.000".
Ejemplo: "mañana a las 5 de la tarde" -> el día siguiente a hoy a las 17:00.
Si el texto no contiene una fecha reconocible responde únicamente 'false'.`,
		today.Format(dateLayoutLocal), spanishWeekdays[today.Weekday()], e.loc.String(), today.Year())

	answer, err := completeText(ctx, e.llm, e.model, prompt, []ChatMessage{{Role: ChatRoleUser, Content: text}})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("conversation: extract date: %w", err)
	}
	answer = strings.Trim(strings.TrimSpace(answer), "\"'`")
	if answer == "" || strings.EqualFold(answer, extractorFalse) {
		return time.Time{}, false, nil
	}
	at, err := ParseExtractedTime(answer, e.loc)
	if err != nil {
		return time.Time{}, false, nil
	}
	return at, true, nil
}
