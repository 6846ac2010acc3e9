package conversation

import (
	"fmt"
	"strings"
	"time"
)

// ParseExtractedTime parses the instant returned by the date extractor.
// Offsets are honoured; naive values are clinic-local.
func ParseExtractedTime(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw = strings.Trim(strings.TrimSpace(raw), "\"'`")

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000", "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("conversation: cannot parse extracted time %q", raw)
}

// ClinicLocation returns the *time.Location for a clinic timezone string.
// Falls back to UTC if the timezone is invalid or empty.
func ClinicLocation(timezone string) *time.Location {
	if timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

var (
	spanishWeekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	spanishMonths   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// FormatSpanishDay renders "lunes, 17 de marzo de 2025".
func FormatSpanishDay(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d", spanishWeekdays[t.Weekday()], t.Day(), spanishMonths[t.Month()-1], t.Year())
}

// FormatSpanishDateTime renders "lunes, 17 de marzo de 2025, 10:00".
func FormatSpanishDateTime(t time.Time) string {
	return fmt.Sprintf("%s, %02d:%02d", FormatSpanishDay(t), t.Hour(), t.Minute())
}
