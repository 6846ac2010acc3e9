package availability

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("clinicai.internal.availability")

// Store is the persistence surface the checker reads from.
type Store interface {
	AppointmentsAt(ctx context.Context, tenantID string, at time.Time) ([]clinic.Appointment, error)
	EmployeeSchedule(ctx context.Context, employeeID int64, tenantID string) ([]clinic.ScheduleWindow, error)
	EmployeesByRole(ctx context.Context, role, tenantID string) ([]clinic.Employee, error)
}

// Checker decides whether an instant is bookable for a tenant.
type Checker struct {
	store  Store
	loc    *time.Location
	now    func() time.Time
	logger *logging.Logger
}

// Option customises a Checker.
type Option func(*Checker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChecker builds a checker evaluating schedules in loc.
func NewChecker(store Store, loc *time.Location, opts ...Option) *Checker {
	if store == nil {
		panic("availability: store required")
	}
	if loc == nil {
		loc = time.UTC
	}
	c := &Checker{
		store:  store,
		loc:    loc,
		now:    time.Now,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsAvailable reports whether at is free. With a nil employeeID any existing
// appointment at that instant blocks it, whatever its status; with an employee, only unassigned
// appointments or the employee's own do, and the employee schedule must cover
// the clinic-local weekday and time.
func (c *Checker) IsAvailable(ctx context.Context, at time.Time, employeeID *int64, tenantID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "availability.is_available")
	defer span.End()
	span.SetAttributes(attribute.String("clinicai.tenant_id", tenantID))

	if !at.After(c.now()) {
		return false, nil
	}

	existing, err := c.store.AppointmentsAt(ctx, tenantID, at)
	if err != nil {
		return false, fmt.Errorf("availability: load appointments: %w", err)
	}
	for _, appt := range existing {
		if employeeID == nil || appt.EmployeeID == nil || *appt.EmployeeID == *employeeID {
			return false, nil
		}
	}

	if employeeID == nil {
		return true, nil
	}

	schedule, err := c.store.EmployeeSchedule(ctx, *employeeID, tenantID)
	if err != nil {
		return false, fmt.Errorf("availability: load schedule: %w", err)
	}
	return WithinSchedule(schedule, at.In(c.loc)), nil
}

// AvailableEmployees returns the employees of role free at the instant.
func (c *Checker) AvailableEmployees(ctx context.Context, tenantID, role string, at time.Time) ([]clinic.Employee, error) {
	employees, err := c.store.EmployeesByRole(ctx, role, tenantID)
	if err != nil {
		return nil, fmt.Errorf("availability: list employees: %w", err)
	}
	var free []clinic.Employee
	for _, emp := range employees {
		id := emp.ID
		ok, err := c.IsAvailable(ctx, at, &id, tenantID)
		if err != nil {
			c.logger.Warn("availability check failed", "tenant_id", tenantID, "employee_id", id, "error", err)
			continue
		}
		if ok {
			free = append(free, emp)
		}
	}
	return free, nil
}

// WithinSchedule reports whether local falls inside one of the windows. An
// empty schedule accepts every instant; window bounds are inclusive.
func WithinSchedule(schedule []clinic.ScheduleWindow, local time.Time) bool {
	if len(schedule) == 0 {
		return true
	}
	weekday := local.Weekday().String()
	minute := local.Hour()*60 + local.Minute()
	for _, window := range schedule {
		if !strings.EqualFold(strings.TrimSpace(window.Day), weekday) {
			continue
		}
		start, okStart := clockMinutes(window.Start)
		end, okEnd := clockMinutes(window.End)
		if !okStart || !okEnd {
			continue
		}
		if minute >= start && minute <= end {
			return true
		}
	}
	return false
}

func clockMinutes(raw string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
