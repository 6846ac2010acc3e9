package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var clinicTracer = otel.Tracer("clinicai.internal.clinic")

const (
	relevantWindow          = 48 * time.Hour
	recentCancellation      = 2 * time.Hour
	relevantCandidateLimit  = 5
	uniqueViolationCode     = "23505"
	appointmentColumns      = "id, user_id, client_id, employee_id, date, status, notes, created_at"
	clientColumns           = "id, user_id, phone, name, email, created_at"
	tenantColumns           = "user_id, clinic_name, number_id, phone_normalized, prompt, settings, reminder_template, reminder_language, notification_email"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads and writes tenant, client, employee and appointment rows.
// Every tenant-scoped statement filters by user_id.
type Repository struct {
	db DB
}

// NewRepository creates a repository over a pgx pool or mock.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("clinic: db required")
	}
	return &Repository{db: db}
}

// GetClient looks a client up by (phone, tenant).
func (r *Repository) GetClient(ctx context.Context, phone, tenantID string) (*Client, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE phone = $1 AND user_id = $2 LIMIT 1`, NormalizePhone(phone), tenantID)
	client, err := scanClient(row)
	if err != nil {
		return nil, fmt.Errorf("clinic: get client: %w", err)
	}
	return client, nil
}

// GetClientByID loads a client scoped to the tenant.
func (r *Repository) GetClientByID(ctx context.Context, id int64, tenantID string) (*Client, error) {
	row := r.db.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1 AND user_id = $2`, id, tenantID)
	client, err := scanClient(row)
	if err != nil {
		return nil, fmt.Errorf("clinic: get client by id: %w", err)
	}
	return client, nil
}

// InsertClient registers a new client for the tenant.
func (r *Repository) InsertClient(ctx context.Context, in NewClient) (*Client, error) {
	if strings.TrimSpace(in.TenantID) == "" {
		return nil, errors.New("clinic: insert client: tenant id required")
	}
	client := &Client{
		TenantID: in.TenantID,
		Phone:    NormalizePhone(in.Phone),
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.TrimSpace(in.Email),
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO clients (user_id, phone, name, email)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		client.TenantID, client.Phone, client.Name, client.Email,
	).Scan(&client.ID, &client.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("clinic: insert client: %w", err)
	}
	return client, nil
}

// ListAppointments returns the tenant's appointments ordered by date.
func (r *Repository) ListAppointments(ctx context.Context, tenantID string) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE user_id = $1 ORDER BY date ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("clinic: list appointments: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// AppointmentsAt returns every appointment of the tenant at exactly at,
// cancelled ones included: a cancelled row still holds its slot.
func (r *Repository) AppointmentsAt(ctx context.Context, tenantID string, at time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1 AND date = $2`,
		tenantID, at.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("clinic: appointments at: %w", err)
	}
	defer rows.Close()
	return scanAppointments(rows)
}

// CreateAppointment inserts a pending appointment. A unique violation on the
// slot index is reported as ErrSlotTaken.
func (r *Repository) CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error) {
	ctx, span := clinicTracer.Start(ctx, "clinic.create_appointment")
	defer span.End()
	span.SetAttributes(attribute.String("clinicai.tenant_id", in.TenantID))

	appt := &Appointment{
		TenantID:   in.TenantID,
		ClientID:   in.ClientID,
		EmployeeID: in.EmployeeID,
		Date:       in.Date.UTC(),
		Status:     StatusPending,
		Notes:      in.Notes,
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO appointments (user_id, client_id, employee_id, date, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		appt.TenantID, appt.ClientID, appt.EmployeeID, appt.Date, string(appt.Status), appt.Notes,
	).Scan(&appt.ID, &appt.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return nil, ErrSlotTaken
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, fmt.Errorf("clinic: create appointment: %w", err)
	}
	return appt, nil
}

// GetAppointment loads an appointment scoped to the tenant.
func (r *Repository) GetAppointment(ctx context.Context, id int64, tenantID string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 AND user_id = $2`, id, tenantID)
	appt, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("clinic: get appointment: %w", err)
	}
	return appt, nil
}

// UpdateAppointmentStatus transitions an appointment and returns the updated row.
func (r *Repository) UpdateAppointmentStatus(ctx context.Context, id int64, status AppointmentStatus, tenantID string) (*Appointment, error) {
	ctx, span := clinicTracer.Start(ctx, "clinic.update_appointment_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicai.tenant_id", tenantID),
		attribute.String("clinicai.status", string(status)),
	)

	if !status.Valid() {
		return nil, fmt.Errorf("clinic: update appointment: invalid status %q", status)
	}
	row := r.db.QueryRow(ctx, `
		UPDATE appointments SET status = $1
		WHERE id = $2 AND user_id = $3
		RETURNING `+appointmentColumns,
		string(status), id, tenantID,
	)
	appt, err := scanAppointment(row)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("clinic: update appointment: %w", err)
	}
	return appt, nil
}

// FindRelevantAppointment returns the appointment a confirm/cancel reply refers
// to: the client is resolved by (phone, tenant) first, then the soonest
// pending or confirmed appointment in the next 48 hours wins, else a cancelled
// one created in the last 2 hours. ErrNotFound when nothing qualifies.
func (r *Repository) FindRelevantAppointment(ctx context.Context, phone, tenantID string, now time.Time) (*Appointment, error) {
	ctx, span := clinicTracer.Start(ctx, "clinic.find_relevant_appointment")
	defer span.End()
	span.SetAttributes(attribute.String("clinicai.tenant_id", tenantID))

	client, err := r.GetClient(ctx, phone, tenantID)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE user_id = $1
		  AND client_id = $2
		  AND status IN ('pending', 'confirmed', 'cancelled')
		  AND date >= $3
		  AND date <= $4
		ORDER BY date ASC
		LIMIT $5`,
		tenantID, client.ID, now.UTC(), now.Add(relevantWindow).UTC(), relevantCandidateLimit,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("clinic: find relevant appointment: %w", err)
	}
	defer rows.Close()

	candidates, err := scanAppointments(rows)
	if err != nil {
		return nil, err
	}
	appt := SelectRelevant(candidates, now)
	if appt == nil {
		return nil, ErrNotFound
	}
	return appt, nil
}

// SelectRelevant applies the relevance rule to candidates ordered soonest first.
func SelectRelevant(candidates []Appointment, now time.Time) *Appointment {
	windowEnd := now.Add(relevantWindow)
	inWindow := func(a Appointment) bool {
		return !a.Date.Before(now) && !a.Date.After(windowEnd)
	}
	for i := range candidates {
		a := candidates[i]
		if inWindow(a) && (a.Status == StatusPending || a.Status == StatusConfirmed) {
			return &a
		}
	}
	cutoff := now.Add(-recentCancellation)
	for i := range candidates {
		a := candidates[i]
		if inWindow(a) && a.Status == StatusCancelled && !a.CreatedAt.Before(cutoff) {
			return &a
		}
	}
	return nil
}

// EmployeesByRole lists the tenant's employees with the given role.
func (r *Repository) EmployeesByRole(ctx context.Context, role, tenantID string) ([]Employee, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, name, role, schedule
		FROM employees
		WHERE role = $1 AND user_id = $2
		ORDER BY id ASC`,
		role, tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("clinic: employees by role: %w", err)
	}
	defer rows.Close()

	var employees []Employee
	for rows.Next() {
		var (
			emp      Employee
			schedule []byte
		)
		if err := rows.Scan(&emp.ID, &emp.TenantID, &emp.Name, &emp.Role, &schedule); err != nil {
			return nil, fmt.Errorf("clinic: scan employee: %w", err)
		}
		if emp.Schedule, err = decodeSchedule(schedule); err != nil {
			return nil, err
		}
		employees = append(employees, emp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: iterate employees: %w", err)
	}
	return employees, nil
}

// EmployeeSchedule returns the weekly windows of an employee of the tenant.
// A nil slice means no schedule is configured.
func (r *Repository) EmployeeSchedule(ctx context.Context, employeeID int64, tenantID string) ([]ScheduleWindow, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT schedule FROM employees WHERE id = $1 AND user_id = $2`, employeeID, tenantID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("clinic: employee schedule: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("clinic: employee schedule: %w", err)
	}
	return decodeSchedule(raw)
}

// TenantByInboundNumber matches the normalized destination number first and
// the raw WhatsApp number id second.
func (r *Repository) TenantByInboundNumber(ctx context.Context, number string) (*Tenant, error) {
	normalized := NormalizePhone(number)
	if normalized != "" {
		tenant, err := scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenant_config WHERE phone_normalized = $1 LIMIT 1`, normalized))
		if err == nil {
			return tenant, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("clinic: tenant by phone: %w", err)
		}
	}
	tenant, err := scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenant_config WHERE number_id = $1 LIMIT 1`, strings.TrimSpace(number)))
	if err != nil {
		return nil, fmt.Errorf("clinic: tenant by number id: %w", err)
	}
	return tenant, nil
}

// TenantByClientHistory returns the tenant of the sender's most recent client row.
func (r *Repository) TenantByClientHistory(ctx context.Context, phone string) (*Tenant, error) {
	var tenantID string
	err := r.db.QueryRow(ctx, `SELECT user_id FROM clients WHERE phone = $1 ORDER BY created_at DESC LIMIT 1`, NormalizePhone(phone)).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("clinic: tenant by client history: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("clinic: tenant by client history: %w", err)
	}
	return r.TenantByID(ctx, tenantID)
}

// TenantByID loads a tenant by its id.
func (r *Repository) TenantByID(ctx context.Context, tenantID string) (*Tenant, error) {
	tenant, err := scanTenant(r.db.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenant_config WHERE user_id = $1`, tenantID))
	if err != nil {
		return nil, fmt.Errorf("clinic: tenant by id: %w", err)
	}
	return tenant, nil
}

// TenantPrompt returns the tenant's custom FAQ prompt, empty when unset.
func (r *Repository) TenantPrompt(ctx context.Context, tenantID string) (string, error) {
	var prompt *string
	err := r.db.QueryRow(ctx, `SELECT prompt FROM tenant_config WHERE user_id = $1`, tenantID).Scan(&prompt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("clinic: tenant prompt: %w", err)
	}
	if prompt == nil {
		return "", nil
	}
	return strings.TrimSpace(*prompt), nil
}

// UpsertTenant provisions or updates a tenant. The reminder template must be valid.
func (r *Repository) UpsertTenant(ctx context.Context, t Tenant) error {
	if err := t.ReminderTemplate.Validate(); err != nil {
		return err
	}
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("clinic: encode settings: %w", err)
	}
	if t.Settings == nil {
		settings = []byte("{}")
	}
	if t.PhoneNormalized == "" {
		t.PhoneNormalized = NormalizePhone(t.NumberID)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO tenant_config (user_id, clinic_name, number_id, phone_normalized, prompt, settings, reminder_template, reminder_language, notification_email)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''))
		ON CONFLICT (user_id) DO UPDATE SET
			clinic_name = EXCLUDED.clinic_name,
			number_id = EXCLUDED.number_id,
			phone_normalized = EXCLUDED.phone_normalized,
			prompt = EXCLUDED.prompt,
			settings = EXCLUDED.settings,
			reminder_template = EXCLUDED.reminder_template,
			reminder_language = EXCLUDED.reminder_language,
			notification_email = EXCLUDED.notification_email`,
		t.ID, t.ClinicName, t.NumberID, t.PhoneNormalized, t.Prompt, settings,
		t.ReminderTemplate.Name, t.ReminderTemplate.Language, t.NotificationEmail,
	)
	if err != nil {
		return fmt.Errorf("clinic: upsert tenant: %w", err)
	}
	return nil
}

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	if err := row.Scan(&c.ID, &c.TenantID, &c.Phone, &c.Name, &c.Email, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a      Appointment
		status string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &a.ClientID, &a.EmployeeID, &a.Date, &status, &a.Notes, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Status = AppointmentStatus(status)
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("clinic: scan appointment: %w", err)
		}
		out = append(out, *appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clinic: iterate appointments: %w", err)
	}
	return out, nil
}

func scanTenant(row pgx.Row) (*Tenant, error) {
	var (
		t        Tenant
		prompt   *string
		settings []byte
		email    *string
	)
	err := row.Scan(&t.ID, &t.ClinicName, &t.NumberID, &t.PhoneNormalized, &prompt, &settings,
		&t.ReminderTemplate.Name, &t.ReminderTemplate.Language, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if prompt != nil {
		t.Prompt = *prompt
	}
	if email != nil {
		t.NotificationEmail = *email
	}
	t.Settings = map[string]any{}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &t.Settings); err != nil {
			return nil, fmt.Errorf("clinic: decode tenant settings: %w", err)
		}
	}
	return &t, nil
}

func decodeSchedule(raw []byte) ([]ScheduleWindow, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var windows []ScheduleWindow
	if err := json.Unmarshal(raw, &windows); err != nil {
		return nil, fmt.Errorf("clinic: decode schedule: %w", err)
	}
	return windows, nil
}
