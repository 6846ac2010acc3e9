package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/handoff"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/inbox"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/notify"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

const (
	testNumberID = "100200300"
	testPhone    = "34600111222"
	testTenantID = "tenant-1"
	testClinic   = "Fisio Centro"
)

var madrid = ClinicLocation("Europe/Madrid")

// testNow is Monday 10 March 2025, 09:00 in Madrid.
var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, madrid)

type sentMessage struct {
	To      string
	From    string
	Text    string
	Buttons []string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeSender) SendMessage(_ context.Context, msg messaging.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{To: msg.To, From: msg.FromNumberID, Text: msg.Text, Buttons: msg.Buttons})
	return nil
}

func (f *fakeSender) SendTemplate(context.Context, messaging.TemplateMessage) error { return nil }

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeSender) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

type fakeClinic struct {
	mu           sync.Mutex
	clients      map[string]*clinic.Client
	appointments []clinic.Appointment
	relevant     *clinic.Appointment
	updates      []clinic.AppointmentStatus
	createErr    error
	insertErr    error
	nextID       int64
}

func newFakeClinic() *fakeClinic {
	return &fakeClinic{clients: make(map[string]*clinic.Client), nextID: 1}
}

func (f *fakeClinic) addClient(phone, name string) *clinic.Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &clinic.Client{ID: f.nextID, TenantID: testTenantID, Phone: phone, Name: name, Email: gofakeit.Email()}
	f.nextID++
	f.clients[phone] = c
	return c
}

func (f *fakeClinic) GetClient(_ context.Context, phone, tenantID string) (*clinic.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[clinic.NormalizePhone(phone)]
	if !ok || c.TenantID != tenantID {
		return nil, fmt.Errorf("clinic: get client: %w", clinic.ErrNotFound)
	}
	return c, nil
}

func (f *fakeClinic) InsertClient(_ context.Context, in clinic.NewClient) (*clinic.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	c := &clinic.Client{ID: f.nextID, TenantID: in.TenantID, Phone: in.Phone, Name: in.Name, Email: in.Email}
	f.nextID++
	f.clients[in.Phone] = c
	return c, nil
}

func (f *fakeClinic) CreateAppointment(_ context.Context, in clinic.NewAppointment) (*clinic.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	appt := clinic.Appointment{
		ID:         int64(len(f.appointments) + 1),
		TenantID:   in.TenantID,
		ClientID:   in.ClientID,
		EmployeeID: in.EmployeeID,
		Date:       in.Date,
		Status:     clinic.StatusPending,
	}
	f.appointments = append(f.appointments, appt)
	return &appt, nil
}

func (f *fakeClinic) UpdateAppointmentStatus(_ context.Context, id int64, status clinic.AppointmentStatus, tenantID string) (*clinic.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, status)
	if f.relevant == nil || f.relevant.ID != id {
		return nil, clinic.ErrNotFound
	}
	f.relevant.Status = status
	cp := *f.relevant
	return &cp, nil
}

func (f *fakeClinic) FindRelevantAppointment(_ context.Context, phone, tenantID string, now time.Time) (*clinic.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.relevant == nil {
		return nil, clinic.ErrNotFound
	}
	cp := *f.relevant
	return &cp, nil
}

func (f *fakeClinic) created() []clinic.Appointment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]clinic.Appointment(nil), f.appointments...)
}

type fakeAvailability struct {
	employees []clinic.Employee
	available bool
	err       error
	askedAt   []time.Time
}

func (f *fakeAvailability) IsAvailable(context.Context, time.Time, *int64, string) (bool, error) {
	return f.available, f.err
}

func (f *fakeAvailability) AvailableEmployees(_ context.Context, tenantID, role string, at time.Time) ([]clinic.Employee, error) {
	f.askedAt = append(f.askedAt, at)
	return f.employees, f.err
}

// scriptedExtractor maps exact input text to a clinic-local "YYYY-MM-DD HH:MM".
type scriptedExtractor struct {
	answers map[string]string
	err     error
	inputs  []string
}

func (s *scriptedExtractor) Extract(_ context.Context, text string, _ time.Time) (time.Time, bool, error) {
	s.inputs = append(s.inputs, text)
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	raw, ok := s.answers[text]
	if !ok {
		return time.Time{}, false, nil
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", raw, madrid)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

type stubClassifier struct {
	confirmation ConfirmationIntent
	intent       Intent
	intentErr    error
	intentCalls  int
}

func (s *stubClassifier) ClassifyConfirmation(context.Context, string) (ConfirmationIntent, error) {
	if s.confirmation == "" {
		return ConfirmationOther, nil
	}
	return s.confirmation, nil
}

func (s *stubClassifier) ClassifyIntent(context.Context, string, string, []ChatMessage) (Intent, error) {
	s.intentCalls++
	if s.intentErr != nil {
		return IntentUnknown, s.intentErr
	}
	if s.intent == "" {
		return IntentUnknown, nil
	}
	return s.intent, nil
}

type stubFAQ struct {
	answer string
	err    error
}

func (s stubFAQ) Answer(context.Context, string, string, string) (string, error) {
	return s.answer, s.err
}

type stubTenants struct {
	tenant *clinic.Tenant
	err    error
}

func (s stubTenants) Resolve(context.Context, string, string) (*clinic.Tenant, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tenant, nil
}

type recordingNotifier struct {
	bookings []notify.Booking
}

func (r *recordingNotifier) AppointmentBooked(_ context.Context, b notify.Booking) error {
	r.bookings = append(r.bookings, b)
	return errors.New("smtp down")
}

type recordingMirror struct {
	mu      sync.Mutex
	entries []inbox.Entry
}

func (m *recordingMirror) Record(_ context.Context, e inbox.Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return 42, nil
}

func (m *recordingMirror) incoming() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		if e.Direction == inbox.Incoming {
			out = append(out, e.Text)
		}
	}
	return out
}

type harness struct {
	engine     *Engine
	states     *MemoryStateStore
	sender     *fakeSender
	clinic     *fakeClinic
	avail      *fakeAvailability
	extractor  *scriptedExtractor
	classifier *stubClassifier
	pauses     *handoff.MemoryRegistry
	notifier   *recordingNotifier
	tenants    *stubTenants
	mirror     *recordingMirror
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		states:     NewMemoryStateStore(time.Hour),
		sender:     &fakeSender{},
		clinic:     newFakeClinic(),
		avail:      &fakeAvailability{available: true},
		extractor:  &scriptedExtractor{answers: map[string]string{}},
		classifier: &stubClassifier{},
		pauses:     handoff.NewMemoryRegistry(),
		notifier:   &recordingNotifier{},
		tenants:    &stubTenants{tenant: &clinic.Tenant{ID: testTenantID, ClinicName: testClinic, NumberID: testNumberID}},
		mirror:     &recordingMirror{},
	}
	logger := logging.NewWithWriter("error", io.Discard)
	replier := NewReplier(h.sender, h.mirror, nil, logger)
	registration := NewRegistration(h.clinic, replier, nil, logger)
	dialogue := NewDialogue(h.clinic, h.avail, h.extractor, replier, registration, madrid,
		WithBookingNotifier(h.notifier),
		WithDialogueLogger(logger),
	)
	router := NewRouter(RouterConfig{
		Store:        h.clinic,
		Pauses:       h.pauses,
		Confirmation: h.classifier,
		Intents:      h.classifier,
		FAQ:          stubFAQ{answer: "Abrimos de 9 a 20h."},
		Dialogue:     dialogue,
		Replier:      replier,
		Logger:       logger,
	})
	h.engine = NewEngine(EngineConfig{
		States:       h.states,
		Pauses:       h.pauses,
		Tenants:      h.tenants,
		Store:        h.clinic,
		Router:       router,
		Dialogue:     dialogue,
		Registration: registration,
		Replier:      replier,
		Logger:       logger,
		Now:          func() time.Time { return testNow },
	})
	return h
}

func inbound(text string) messaging.InboundMessage {
	return messaging.InboundMessage{
		MessageID: gofakeit.UUID(),
		NumberID:  testNumberID,
		From:      testPhone,
		PushName:  "Ana",
		Body:      text,
		Type:      messaging.TypeText,
	}
}

func (h *harness) send(t *testing.T, text string) {
	t.Helper()
	if err := h.engine.HandleInbound(context.Background(), inbound(text)); err != nil {
		t.Fatalf("HandleInbound(%q): %v", text, err)
	}
}

func (h *harness) state(t *testing.T) *State {
	t.Helper()
	st, err := h.states.Load(context.Background(), ConversationKey(testNumberID, testPhone))
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return st
}

// seed stores a state for the test sender with a cached tenant and client.
func (h *harness) seed(t *testing.T, step Step) {
	t.Helper()
	c := h.clinic.addClient(testPhone, "Ana García")
	st := NewState()
	st.Tenant = &TenantRef{ID: testTenantID, ClinicName: testClinic}
	st.Client = &ClientRef{ID: c.ID, Name: c.Name}
	st.Step = step
	if err := h.states.Save(context.Background(), ConversationKey(testNumberID, testPhone), st); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}
