package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/notify"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

const defaultEmployeeRole = "fisioterapeuta"

// Dialogue drives the appointment booking steps, from the date question to
// the committed appointment.
type Dialogue struct {
	store        ClinicStore
	availability Availability
	extractor    DateExtractor
	replier      *Replier
	registration *Registration
	locker       Locker
	notifier     BookingNotifier
	loc          *time.Location
	role         string
	metrics      *metrics.ConversationMetrics
	logger       *logging.Logger
}

// DialogueOption configures a Dialogue.
type DialogueOption func(*Dialogue)

// WithEmployeeRole sets the role whose employees take appointments.
func WithEmployeeRole(role string) DialogueOption {
	return func(d *Dialogue) {
		if strings.TrimSpace(role) != "" {
			d.role = role
		}
	}
}

// WithSlotLocker serialises commits on the same slot.
func WithSlotLocker(l Locker) DialogueOption {
	return func(d *Dialogue) {
		if l != nil {
			d.locker = l
		}
	}
}

func WithBookingNotifier(n BookingNotifier) DialogueOption {
	return func(d *Dialogue) { d.notifier = n }
}

func WithDialogueMetrics(m *metrics.ConversationMetrics) DialogueOption {
	return func(d *Dialogue) { d.metrics = m }
}

func WithDialogueLogger(l *logging.Logger) DialogueOption {
	return func(d *Dialogue) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDialogue(store ClinicStore, availability Availability, extractor DateExtractor, replier *Replier, registration *Registration, loc *time.Location, opts ...DialogueOption) *Dialogue {
	if store == nil {
		panic("conversation: clinic store required")
	}
	if availability == nil {
		panic("conversation: availability checker required")
	}
	if extractor == nil {
		panic("conversation: date extractor required")
	}
	if replier == nil {
		panic("conversation: replier required")
	}
	if registration == nil {
		panic("conversation: registration flow required")
	}
	if loc == nil {
		loc = time.UTC
	}
	d := &Dialogue{
		store:        store,
		availability: availability,
		extractor:    extractor,
		replier:      replier,
		registration: registration,
		locker:       NewMemoryLocker(5 * time.Second),
		loc:          loc,
		role:         defaultEmployeeRole,
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Begin enters the booking flow from the router. The text that triggered it
// is tried as a date straight away.
func (d *Dialogue) Begin(ctx context.Context, sess *Session, text string) error {
	ctx, span := stateTracer.Start(ctx, "conversation.dialogue.begin")
	defer span.End()

	if sess.State.Tenant == nil {
		sess.Finish()
		return d.replier.Reply(ctx, sess, msgTenantError)
	}
	span.SetAttributes(attribute.String("clinicai.tenant_id", sess.TenantID()))

	client, err := d.store.GetClient(ctx, sess.Phone(), sess.TenantID())
	switch {
	case errors.Is(err, clinic.ErrNotFound):
		if err := d.replier.Reply(ctx, sess, msgRegisterFirst(sess.ClinicName())); err != nil {
			return err
		}
		return d.registration.Start(ctx, sess)
	case err != nil:
		d.logger.Error("failed to load client", "tenant_id", sess.TenantID(), "phone", logging.MaskPhone(sess.Phone()), "error", err)
		return d.replier.Reply(ctx, sess, msgVerifyError)
	}
	sess.State.Client = &ClientRef{ID: client.ID, Name: client.Name}

	d.transition(sess, AwaitingDate{})
	at, ok, err := d.extractor.Extract(ctx, text, sess.Now)
	if err != nil || !ok || !at.After(sess.Now) {
		if err != nil {
			d.logger.Warn("date extraction failed on entry", "tenant_id", sess.TenantID(), "error", err)
		}
		return d.replier.Reply(ctx, sess, msgAskDate(sess.ClientName(), sess.ClinicName()))
	}
	return d.acceptDate(ctx, sess, text, at)
}

// Handle continues a booking already in progress.
func (d *Dialogue) Handle(ctx context.Context, sess *Session, text string) error {
	ctx, span := stateTracer.Start(ctx, "conversation.dialogue.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("clinicai.tenant_id", sess.TenantID()),
		attribute.String("clinicai.step", string(sess.State.CurrentStep().Kind())),
	)

	switch sess.State.CurrentStep().(type) {
	case AwaitingDate, AwaitingTime, AwaitingRevisedDate:
		if leavesBooking(text) {
			d.transition(sess, Idle{})
			return d.replier.Reply(ctx, sess, msgSelectionCancelled(sess.ClinicName()))
		}
	}

	switch step := sess.State.CurrentStep().(type) {
	case AwaitingDate:
		return d.onDate(ctx, sess, text)
	case AwaitingTime:
		return d.onTime(ctx, sess, step, text)
	case AwaitingEmployeeSelection:
		return d.onEmployee(ctx, sess, step, text)
	case AwaitingConfirmation:
		return d.onConfirmation(ctx, sess, step, text)
	case AwaitingRevisedDate:
		return d.onRevisedDate(ctx, sess, text)
	default:
		return fmt.Errorf("conversation: dialogue cannot handle step %q", step.Kind())
	}
}

// Handles reports whether step belongs to the booking flow.
func (d *Dialogue) Handles(step Step) bool {
	switch step.(type) {
	case AwaitingDate, AwaitingTime, AwaitingEmployeeSelection, AwaitingConfirmation, AwaitingRevisedDate:
		return true
	}
	return false
}

// leavesBooking reports whether a reply to a date question abandons the booking.
func leavesBooking(text string) bool {
	text = strings.TrimSpace(text)
	return strings.EqualFold(text, ButtonCancel) || strings.EqualFold(text, ButtonExit)
}

func (d *Dialogue) onDate(ctx context.Context, sess *Session, text string) error {
	at, ok, err := d.extractor.Extract(ctx, text, sess.Now)
	if err != nil {
		d.logger.Error("date extraction failed", "tenant_id", sess.TenantID(), "error", err)
		return d.replier.Reply(ctx, sess, msgInternalError)
	}
	if !ok {
		return d.replier.Reply(ctx, sess, msgUnparsedDate(sess.ClientName()))
	}
	if !at.After(sess.Now) {
		return d.replier.Reply(ctx, sess, msgPastDate(sess.ClientName()))
	}
	return d.acceptDate(ctx, sess, text, at)
}

// acceptDate parks a date without a stated time, or resolves availability
// for a complete instant.
func (d *Dialogue) acceptDate(ctx context.Context, sess *Session, text string, at time.Time) error {
	local := at.In(d.loc)
	if IsDefaultTime(local) && !HasExplicitTime(text) {
		d.transition(sess, AwaitingTime{Date: local.Format(dateLayoutLocal)})
		return d.replier.Reply(ctx, sess, msgAskTime(sess.ClientName(), FormatSpanishDay(local), sess.ClinicName()))
	}
	return d.offerEmployees(ctx, sess, at)
}

func (d *Dialogue) onTime(ctx context.Context, sess *Session, step AwaitingTime, text string) error {
	at, ok, err := d.extractor.Extract(ctx, step.Date+" "+text, sess.Now)
	if err != nil {
		d.logger.Error("time extraction failed", "tenant_id", sess.TenantID(), "error", err)
		return d.replier.Reply(ctx, sess, msgInternalError)
	}
	if !ok {
		return d.replier.Reply(ctx, sess, msgUnparsedDate(sess.ClientName()))
	}
	if IsDefaultTime(at.In(d.loc)) && !HasExplicitTime(text) {
		return d.replier.Reply(ctx, sess, msgNeedSpecificTime(sess.ClientName(), sess.ClinicName()))
	}
	if !at.After(sess.Now) {
		return d.replier.Reply(ctx, sess, msgPastDate(sess.ClientName()))
	}
	return d.offerEmployees(ctx, sess, at)
}

func (d *Dialogue) onRevisedDate(ctx context.Context, sess *Session, text string) error {
	at, ok, err := d.extractor.Extract(ctx, text, sess.Now)
	if err != nil {
		d.logger.Error("revised date extraction failed", "tenant_id", sess.TenantID(), "error", err)
		return d.replier.Reply(ctx, sess, msgInternalError)
	}
	if !ok {
		return d.replier.Reply(ctx, sess, msgRevisedUnparsed(sess.ClinicName()))
	}
	if !at.After(sess.Now) {
		return d.replier.Reply(ctx, sess, msgRevisedPast)
	}
	return d.offerEmployees(ctx, sess, at)
}

// offerEmployees lists who can take the instant. With nobody free the user
// is sent back to choose another date.
func (d *Dialogue) offerEmployees(ctx context.Context, sess *Session, at time.Time) error {
	employees, err := d.availability.AvailableEmployees(ctx, sess.TenantID(), d.role, at)
	if err != nil {
		d.logger.Error("availability lookup failed", "tenant_id", sess.TenantID(), "error", err)
		return d.replier.Reply(ctx, sess, msgInternalError)
	}
	if len(employees) == 0 {
		d.transition(sess, AwaitingDate{})
		return d.replier.Reply(ctx, sess, msgNoAvailability(sess.ClinicName()))
	}

	candidates := make([]EmployeeOption, 0, len(employees))
	for _, e := range employees {
		candidates = append(candidates, EmployeeOption{ID: e.ID, Name: e.Name})
	}
	d.transition(sess, AwaitingEmployeeSelection{At: at, Candidates: candidates})

	if err := d.replier.Reply(ctx, sess, msgDateAvailable(FormatSpanishDateTime(at.In(d.loc)), sess.ClinicName())); err != nil {
		return err
	}
	return d.replier.Reply(ctx, sess, msgChooseEmployee(sess.ClinicName()), employeeButtons(candidates)...)
}

func employeeButtons(candidates []EmployeeOption) []string {
	buttons := make([]string, 0, len(candidates)+1)
	for _, c := range candidates {
		buttons = append(buttons, c.Name)
	}
	return append(buttons, ButtonCancel)
}

func (d *Dialogue) onEmployee(ctx context.Context, sess *Session, step AwaitingEmployeeSelection, text string) error {
	choice, cancelled := matchEmployee(step.Candidates, text)
	if cancelled {
		d.transition(sess, Idle{})
		return d.replier.Reply(ctx, sess, msgSelectionCancelled(sess.ClinicName()))
	}
	if choice == nil {
		return d.replier.Reply(ctx, sess, msgInvalidEmployee, employeeButtons(step.Candidates)...)
	}

	d.transition(sess, AwaitingConfirmation{At: step.At, Employee: *choice})
	if err := d.replier.Reply(ctx, sess, msgEmployeeChosen(choice.Name, sess.ClinicName())); err != nil {
		return err
	}
	return d.replier.Reply(ctx, sess, msgConfirmQuestion, ButtonConfirm, ButtonOtherDate, ButtonExit)
}

// matchEmployee accepts a case-insensitive name or the 1-based position in
// the offered list, where the last position is Cancelar.
func matchEmployee(candidates []EmployeeOption, text string) (*EmployeeOption, bool) {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, ButtonCancel) {
		return nil, true
	}
	for i := range candidates {
		if strings.EqualFold(strings.TrimSpace(candidates[i].Name), text) {
			return &candidates[i], false
		}
	}
	n, err := strconv.Atoi(strings.TrimSuffix(text, "."))
	switch {
	case err != nil || n < 1:
		return nil, false
	case n <= len(candidates):
		return &candidates[n-1], false
	case n == len(candidates)+1:
		return nil, true
	}
	return nil, false
}

func (d *Dialogue) onConfirmation(ctx context.Context, sess *Session, step AwaitingConfirmation, text string) error {
	switch normalized := strings.ToLower(strings.TrimSpace(text)); {
	case text == ButtonConfirm || normalized == strings.ToLower(ButtonConfirm) || normalized == "si" || normalized == "sí":
		return d.commit(ctx, sess, step)
	case strings.EqualFold(normalized, ButtonOtherDate):
		d.transition(sess, AwaitingRevisedDate{})
		return d.replier.Reply(ctx, sess, msgOtherDate)
	case strings.EqualFold(normalized, ButtonExit):
		sess.Finish()
		return d.replier.Reply(ctx, sess, msgExit)
	default:
		return d.replier.Reply(ctx, sess, msgUnrecognizedChoice, ButtonConfirm, ButtonOtherDate, ButtonExit)
	}
}

func slotKey(tenantID string, at time.Time) string {
	return "slot:" + tenantID + ":" + at.UTC().Format(time.RFC3339)
}

// commit books the slot under the slot lock, re-checking availability first.
func (d *Dialogue) commit(ctx context.Context, sess *Session, step AwaitingConfirmation) error {
	ctx, span := stateTracer.Start(ctx, "conversation.dialogue.commit")
	defer span.End()

	if sess.State.Client == nil {
		if err := d.replier.Reply(ctx, sess, msgRegisterFirst(sess.ClinicName())); err != nil {
			return err
		}
		return d.registration.Start(ctx, sess)
	}
	tenantID := sess.TenantID()
	employeeID := step.Employee.ID

	var appt *clinic.Appointment
	err := d.locker.WithLock(ctx, slotKey(tenantID, step.At), func(ctx context.Context) error {
		free, err := d.availability.IsAvailable(ctx, step.At, &employeeID, tenantID)
		if err != nil {
			return err
		}
		if !free {
			return clinic.ErrSlotTaken
		}
		appt, err = d.store.CreateAppointment(ctx, clinic.NewAppointment{
			TenantID:   tenantID,
			ClientID:   sess.State.Client.ID,
			EmployeeID: &employeeID,
			Date:       step.At,
		})
		return err
	})

	switch {
	case errors.Is(err, clinic.ErrSlotTaken):
		d.metrics.ObserveAppointment("slot_taken")
		d.transition(sess, AwaitingDate{})
		return d.replier.Reply(ctx, sess, msgSlotTaken(sess.ClinicName()))
	case err != nil:
		span.RecordError(err)
		d.metrics.ObserveAppointment("failed")
		d.logger.Error("failed to create appointment", "tenant_id", tenantID, "phone", logging.MaskPhone(sess.Phone()), "error", err)
		return d.replier.Reply(ctx, sess, msgCommitFailed(sess.ClinicName()))
	}

	d.metrics.ObserveAppointment("created")
	d.logger.Info("appointment created", "tenant_id", tenantID, "appointment_id", appt.ID, "employee_id", employeeID)
	sess.Finish()

	local := step.At.In(d.loc)
	if err := d.replier.Reply(ctx, sess, msgCommitted(sess.ClinicName(), FormatSpanishDateTime(local))); err != nil {
		return err
	}
	d.notify(ctx, sess, appt, step)
	return nil
}

func (d *Dialogue) notify(ctx context.Context, sess *Session, appt *clinic.Appointment, step AwaitingConfirmation) {
	if d.notifier == nil {
		return
	}
	err := d.notifier.AppointmentBooked(ctx, notify.Booking{
		AppointmentID: appt.ID,
		TenantID:      sess.TenantID(),
		ClinicName:    sess.ClinicName(),
		ClientName:    sess.ClientName(),
		ClientPhone:   sess.Phone(),
		EmployeeName:  step.Employee.Name,
		At:            step.At,
	})
	if err != nil {
		d.logger.Warn("booking notification failed", "tenant_id", sess.TenantID(), "appointment_id", appt.ID, "error", err)
	}
}

func (d *Dialogue) transition(sess *Session, next Step) {
	advance(sess, d.metrics, next)
}

// advance moves the session to next and counts the transition.
func advance(sess *Session, m *metrics.ConversationMetrics, next Step) {
	m.ObserveTransition(string(sess.State.CurrentStep().Kind()), string(next.Kind()))
	sess.moveTo(next)
}
