package conversation

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/notify"
)

// ClinicStore is the slice of the clinic repository the conversation needs.
type ClinicStore interface {
	GetClient(ctx context.Context, phone, tenantID string) (*clinic.Client, error)
	InsertClient(ctx context.Context, in clinic.NewClient) (*clinic.Client, error)
	CreateAppointment(ctx context.Context, in clinic.NewAppointment) (*clinic.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id int64, status clinic.AppointmentStatus, tenantID string) (*clinic.Appointment, error)
	FindRelevantAppointment(ctx context.Context, phone, tenantID string, now time.Time) (*clinic.Appointment, error)
}

// Availability answers slot questions for a tenant.
type Availability interface {
	IsAvailable(ctx context.Context, at time.Time, employeeID *int64, tenantID string) (bool, error)
	AvailableEmployees(ctx context.Context, tenantID, role string, at time.Time) ([]clinic.Employee, error)
}

// TenantResolver identifies the clinic of an inbound message.
type TenantResolver interface {
	Resolve(ctx context.Context, inboundNumber, senderPhone string) (*clinic.Tenant, error)
}

// BookingNotifier tells the clinic about a committed appointment.
type BookingNotifier interface {
	AppointmentBooked(ctx context.Context, b notify.Booking) error
}

// MediaArchiver stores an inbound attachment and returns a reference to it.
type MediaArchiver interface {
	ArchiveAttachment(ctx context.Context, msg messaging.InboundMessage, att messaging.Attachment) (string, error)
}

// PauseChecker reports whether a human agent has taken over a sender.
type PauseChecker interface {
	IsPaused(ctx context.Context, phone string) (bool, error)
}
