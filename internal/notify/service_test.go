package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
)

type mockEmailSender struct {
	sent    []EmailMessage
	callErr error
}

func (m *mockEmailSender) Send(_ context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockTenantStore struct {
	tenants map[string]*clinic.Tenant
}

func (m *mockTenantStore) TenantByID(_ context.Context, tenantID string) (*clinic.Tenant, error) {
	if t, ok := m.tenants[tenantID]; ok {
		return t, nil
	}
	return nil, clinic.ErrNotFound
}

func testBooking() Booking {
	madrid, _ := time.LoadLocation("Europe/Madrid")
	return Booking{
		AppointmentID: 42,
		TenantID:      "tenant-1",
		ClinicName:    "Fisio Centro",
		ClientName:    "Ana <García>",
		ClientPhone:   "34600111222",
		EmployeeName:  "Laura",
		At:            time.Date(2025, 3, 15, 14, 30, 0, 0, madrid),
	}
}

func newTestService(email EmailSender, tenant *clinic.Tenant) *Service {
	madrid, _ := time.LoadLocation("Europe/Madrid")
	store := &mockTenantStore{tenants: map[string]*clinic.Tenant{}}
	if tenant != nil {
		store.tenants[tenant.ID] = tenant
	}
	return NewService(email, store, madrid, nil)
}

func TestAppointmentBooked_SendsEmail(t *testing.T) {
	email := &mockEmailSender{}
	svc := newTestService(email, &clinic.Tenant{ID: "tenant-1", ClinicName: "Fisio Centro", NotificationEmail: " recepcion@fisiocentro.es "})

	if err := svc.AppointmentBooked(context.Background(), testBooking()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(email.sent))
	}
	msg := email.sent[0]
	if msg.To != "recepcion@fisiocentro.es" {
		t.Errorf("unexpected recipient %q", msg.To)
	}
	if !strings.Contains(msg.Subject, "Ana <García>") {
		t.Errorf("subject missing client: %q", msg.Subject)
	}
	for _, want := range []string{"15/03/2025 14:30", "Laura", "34600111222", "Cita nº: 42"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if !strings.Contains(msg.HTML, "Ana &lt;García&gt;") {
		t.Errorf("html must escape client name:\n%s", msg.HTML)
	}
}

func TestAppointmentBooked_SkipsTenantWithoutAddress(t *testing.T) {
	email := &mockEmailSender{}
	svc := newTestService(email, &clinic.Tenant{ID: "tenant-1"})

	if err := svc.AppointmentBooked(context.Background(), testBooking()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(email.sent) != 0 {
		t.Fatalf("expected no email, got %d", len(email.sent))
	}
}

func TestAppointmentBooked_Errors(t *testing.T) {
	t.Run("unknown tenant", func(t *testing.T) {
		svc := newTestService(&mockEmailSender{}, nil)
		err := svc.AppointmentBooked(context.Background(), testBooking())
		if !errors.Is(err, clinic.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("send failure", func(t *testing.T) {
		svc := newTestService(&mockEmailSender{callErr: errors.New("smtp down")}, &clinic.Tenant{ID: "tenant-1", NotificationEmail: "a@example.com"})
		if err := svc.AppointmentBooked(context.Background(), testBooking()); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestAppointmentBooked_Unconfigured(t *testing.T) {
	svc := NewService(nil, nil, nil, nil)
	if err := svc.AppointmentBooked(context.Background(), testBooking()); err != nil {
		t.Fatalf("unconfigured service must be a no-op, got %v", err)
	}
}
