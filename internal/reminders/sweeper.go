package reminders

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

var tracer = otel.Tracer("clinicai.internal.reminders")

// AppointmentSource lists appointments due a reminder.
type AppointmentSource interface {
	PendingBetween(ctx context.Context, from, to time.Time) ([]Due, error)
}

// Directory resolves the client and tenant of an appointment.
type Directory interface {
	GetClientByID(ctx context.Context, id int64, tenantID string) (*clinic.Client, error)
	TenantByID(ctx context.Context, tenantID string) (*clinic.Tenant, error)
}

// Summary counts one sweep.
type Summary struct {
	Found  int `json:"found"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Config holds the fallbacks used when a tenant row leaves them empty.
type Config struct {
	Template       clinic.TemplateRef
	SenderNumberID string
	Location       *time.Location
}

// Sweeper sends one template reminder for every pending appointment of the
// next clinic-local day. A failing row never stops the sweep.
type Sweeper struct {
	source  AppointmentSource
	dir     Directory
	sender  messaging.Sender
	cfg     Config
	metrics *metrics.ReminderMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewSweeper(source AppointmentSource, dir Directory, sender messaging.Sender, cfg Config, m *metrics.ReminderMetrics, logger *logging.Logger) *Sweeper {
	switch {
	case source == nil:
		panic("reminders: appointment source required")
	case dir == nil:
		panic("reminders: directory required")
	case sender == nil:
		panic("reminders: sender required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{source: source, dir: dir, sender: sender, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

// TomorrowWindow returns clinic-local midnight to midnight of the day after now.
func TomorrowWindow(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}

// Run performs one sweep. Only the listing failure is returned as an error.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	ctx, span := tracer.Start(ctx, "reminders.sweep")
	defer span.End()

	from, to := TomorrowWindow(s.now(), s.cfg.Location)
	due, err := s.source.PendingBetween(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		return Summary{}, err
	}
	summary := Summary{Found: len(due)}
	span.SetAttributes(attribute.Int("clinicai.reminders.found", summary.Found))
	if len(due) == 0 {
		s.logger.Info("no pending appointments for tomorrow", "from", from.Format(time.DateOnly))
		return summary, nil
	}
	s.logger.Info("sending appointment reminders", "count", len(due), "from", from.Format(time.DateOnly))

	for _, d := range due {
		err := s.remind(ctx, d)
		s.metrics.ObserveSend(err)
		if err != nil {
			summary.Failed++
			s.logger.Error("reminder failed", "appointment_id", d.AppointmentID, "tenant_id", d.TenantID, "error", err)
			continue
		}
		summary.Sent++
	}
	s.logger.Info("reminder sweep finished", "found", summary.Found, "sent", summary.Sent, "failed", summary.Failed)
	return summary, nil
}

func (s *Sweeper) remind(ctx context.Context, d Due) error {
	client, err := s.dir.GetClientByID(ctx, d.ClientID, d.TenantID)
	if err != nil {
		return fmt.Errorf("reminders: load client %d: %w", d.ClientID, err)
	}
	tenant, err := s.dir.TenantByID(ctx, d.TenantID)
	if err != nil {
		return fmt.Errorf("reminders: load tenant: %w", err)
	}

	template := tenant.ReminderTemplate
	if template.Name == "" {
		template.Name = s.cfg.Template.Name
	}
	if template.Language == "" {
		template.Language = s.cfg.Template.Language
	}
	if err := template.Validate(); err != nil {
		return fmt.Errorf("reminders: %w", err)
	}
	from := tenant.NumberID
	if from == "" {
		from = s.cfg.SenderNumberID
	}

	err = s.sender.SendTemplate(ctx, messaging.TemplateMessage{
		FromNumberID: from,
		To:           clinic.NormalizePhone(client.Phone),
		Name:         template.Name,
		Language:     template.Language,
		Parameters:   []string{client.Name, tenant.DisplayName(), d.At.In(s.cfg.Location).Format("15:04")},
	})
	if err != nil {
		return fmt.Errorf("reminders: send template: %w", err)
	}
	s.logger.Info("reminder sent", "appointment_id", d.AppointmentID, "tenant_id", d.TenantID, "phone", logging.MaskPhone(client.Phone))
	return nil
}
