package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// Booking describes an appointment just committed by the assistant.
type Booking struct {
	AppointmentID int64
	TenantID      string
	ClinicName    string
	ClientName    string
	ClientPhone   string
	EmployeeName  string
	At            time.Time
}

// TenantStore returns the tenant whose notification address is used.
type TenantStore interface {
	TenantByID(ctx context.Context, tenantID string) (*clinic.Tenant, error)
}

// Service emails the clinic when the assistant books an appointment.
type Service struct {
	email   EmailSender
	tenants TenantStore
	loc     *time.Location
	logger  *logging.Logger
}

// NewService returns a service that formats times in loc.
func NewService(email EmailSender, tenants TenantStore, loc *time.Location, logger *logging.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, tenants: tenants, loc: loc, logger: logger}
}

// AppointmentBooked sends one email to the tenant's notification address.
// Tenants without an address are skipped.
func (s *Service) AppointmentBooked(ctx context.Context, b Booking) error {
	if s.email == nil || s.tenants == nil {
		s.logger.Debug("notify: email not configured, skipping booking notification")
		return nil
	}

	tenant, err := s.tenants.TenantByID(ctx, b.TenantID)
	if err != nil {
		return fmt.Errorf("notify: load tenant: %w", err)
	}
	to := strings.TrimSpace(tenant.NotificationEmail)
	if to == "" {
		s.logger.Debug("notify: tenant has no notification email", "tenant_id", b.TenantID)
		return nil
	}

	clinicName := b.ClinicName
	if clinicName == "" {
		clinicName = tenant.DisplayName()
	}
	when := b.At.In(s.loc).Format("02/01/2006 15:04")

	msg := EmailMessage{
		To:      to,
		ToName:  clinicName,
		Subject: fmt.Sprintf("Nueva cita por WhatsApp - %s", b.ClientName),
		Body: fmt.Sprintf(`Se ha reservado una nueva cita desde WhatsApp.

Paciente: %s
Teléfono: %s
Profesional: %s
Fecha: %s
Cita nº: %d

La cita queda pendiente de confirmación por el paciente.

- %s`, b.ClientName, b.ClientPhone, b.EmployeeName, when, b.AppointmentID, clinicName),
		HTML: bookingHTML(b, when, clinicName),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send booking email: %w", err)
	}
	s.logger.Info("notify: booking email sent", "tenant_id", b.TenantID, "appointment_id", b.AppointmentID)
	return nil
}

func bookingHTML(b Booking, when, clinicName string) string {
	row := func(label, value string) string {
		return fmt.Sprintf(`  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`+"\n",
			label, html.EscapeString(value))
	}
	var sb strings.Builder
	sb.WriteString(`<div style="font-family: sans-serif; max-width: 600px;">` + "\n")
	sb.WriteString(`<h2 style="color: #0ea5e9;">Nueva cita por WhatsApp</h2>` + "\n")
	sb.WriteString(`<table style="border-collapse: collapse; margin: 20px 0;">` + "\n")
	sb.WriteString(row("Paciente", b.ClientName))
	sb.WriteString(row("Teléfono", b.ClientPhone))
	sb.WriteString(row("Profesional", b.EmployeeName))
	sb.WriteString(row("Fecha", when))
	sb.WriteString(row("Cita nº", fmt.Sprint(b.AppointmentID)))
	sb.WriteString("</table>\n")
	fmt.Fprintf(&sb, `<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">- %s</p>`+"\n</div>", html.EscapeString(clinicName))
	return sb.String()
}
