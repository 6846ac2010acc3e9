package clinic

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the requested row does not exist for the tenant.
	ErrNotFound = errors.New("clinic: not found")
	// ErrSlotTaken indicates another appointment already occupies the slot.
	ErrSlotTaken = errors.New("clinic: slot already taken")
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled:
		return true
	}
	return false
}

// Tenant is one clinic.
type Tenant struct {
	ID                string         `json:"id"`
	ClinicName        string         `json:"clinic_name"`
	NumberID          string         `json:"number_id"`
	PhoneNormalized   string         `json:"phone_normalized"`
	Settings          map[string]any `json:"settings,omitempty"`
	Prompt            string         `json:"-"`
	ReminderTemplate  TemplateRef    `json:"reminder_template"`
	NotificationEmail string         `json:"notification_email,omitempty"`
}

// DisplayName returns the clinic name or a neutral fallback.
func (t *Tenant) DisplayName() string {
	if t == nil || strings.TrimSpace(t.ClinicName) == "" {
		return "nuestra clínica"
	}
	return t.ClinicName
}

// TemplateRef identifies the approved WhatsApp template used for reminders.
type TemplateRef struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

var (
	templateNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,512}$`)
	templateLangPattern = regexp.MustCompile(`^[a-z]{2,3}(_[A-Z]{2})?$`)
)

// Validate checks the template identifier against WhatsApp naming rules.
func (r TemplateRef) Validate() error {
	if !templateNamePattern.MatchString(r.Name) {
		return fmt.Errorf("clinic: invalid template name %q", r.Name)
	}
	if !templateLangPattern.MatchString(r.Language) {
		return fmt.Errorf("clinic: invalid template language %q", r.Language)
	}
	return nil
}

// Client is a clinic's patient. Phone is unique per tenant.
type Client struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// NewClient holds the fields captured by registration.
type NewClient struct {
	TenantID string
	Phone    string
	Name     string
	Email    string
}

// ScheduleWindow is one weekly availability window of an employee.
type ScheduleWindow struct {
	Day   string `json:"day"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Employee is a staff member able to take appointments.
type Employee struct {
	ID       int64            `json:"id"`
	TenantID string           `json:"tenant_id"`
	Name     string           `json:"name"`
	Role     string           `json:"role"`
	Schedule []ScheduleWindow `json:"schedule,omitempty"`
}

// Appointment is a booked slot. EmployeeID is nil until assigned.
type Appointment struct {
	ID         int64             `json:"id"`
	TenantID   string            `json:"tenant_id"`
	ClientID   int64             `json:"client_id"`
	EmployeeID *int64            `json:"employee_id,omitempty"`
	Date       time.Time         `json:"date"`
	Status     AppointmentStatus `json:"status"`
	Notes      string            `json:"notes"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewAppointment holds the fields required to book.
type NewAppointment struct {
	TenantID   string
	ClientID   int64
	EmployeeID *int64
	Date       time.Time
	Notes      string
}

// NormalizePhone strips everything except digits, dropping a leading plus.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
