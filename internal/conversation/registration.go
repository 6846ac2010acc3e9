package conversation

import (
	"context"
	"strings"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// Registration collects consent, name and email of a new client.
type Registration struct {
	store   ClinicStore
	replier *Replier
	metrics *metrics.ConversationMetrics
	logger  *logging.Logger
}

func NewRegistration(store ClinicStore, replier *Replier, m *metrics.ConversationMetrics, logger *logging.Logger) *Registration {
	if store == nil {
		panic("conversation: clinic store required")
	}
	if replier == nil {
		panic("conversation: replier required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registration{store: store, replier: replier, metrics: m, logger: logger}
}

// Start asks for consent to register.
func (r *Registration) Start(ctx context.Context, sess *Session) error {
	advance(sess, r.metrics, RegistrationConsent{})
	return r.replier.Reply(ctx, sess, msgConsentPrompt, ButtonConsent, ButtonDecline)
}

// Handles reports whether step belongs to registration.
func (r *Registration) Handles(step Step) bool {
	switch step.(type) {
	case RegistrationConsent, RegistrationName, RegistrationEmail:
		return true
	}
	return false
}

func (r *Registration) Handle(ctx context.Context, sess *Session, text string) error {
	switch step := sess.State.CurrentStep().(type) {
	case RegistrationConsent:
		return r.onConsent(ctx, sess, text)
	case RegistrationName:
		return r.onName(ctx, sess, text)
	case RegistrationEmail:
		return r.onEmail(ctx, sess, step, text)
	}
	return nil
}

func (r *Registration) onConsent(ctx context.Context, sess *Session, text string) error {
	switch answer := strings.TrimSpace(text); {
	case strings.EqualFold(answer, ButtonDecline), strings.EqualFold(answer, "no"):
		sess.Finish()
		return r.replier.Reply(ctx, sess, msgConsentDeclined)
	case strings.EqualFold(answer, ButtonConsent), strings.EqualFold(answer, "sí"):
		advance(sess, r.metrics, RegistrationName{})
		if err := r.replier.Reply(ctx, sess, msgConsentAccepted); err != nil {
			return err
		}
		return r.replier.Reply(ctx, sess, msgAskName)
	default:
		if err := r.replier.Reply(ctx, sess, msgConsentInvalid); err != nil {
			return err
		}
		return r.replier.Reply(ctx, sess, msgConsentPrompt, ButtonConsent, ButtonDecline)
	}
}

func (r *Registration) onName(ctx context.Context, sess *Session, text string) error {
	name := strings.TrimSpace(text)
	if name == "" {
		return r.replier.Reply(ctx, sess, msgAskName)
	}
	advance(sess, r.metrics, RegistrationEmail{Name: name})
	return r.replier.Reply(ctx, sess, msgAskEmail)
}

func (r *Registration) onEmail(ctx context.Context, sess *Session, step RegistrationEmail, text string) error {
	email := strings.TrimSpace(text)
	if !strings.Contains(email, "@") {
		return r.replier.Reply(ctx, sess, msgInvalidEmail)
	}

	client, err := r.store.InsertClient(ctx, clinic.NewClient{
		TenantID: sess.TenantID(),
		Phone:    clinic.NormalizePhone(sess.Phone()),
		Name:     step.Name,
		Email:    email,
	})
	if err != nil {
		r.logger.Error("failed to register client", "tenant_id", sess.TenantID(), "phone", logging.MaskPhone(sess.Phone()), "error", err)
		sess.Finish()
		return r.replier.Reply(ctx, sess, msgRegistrationFailed(sess.ClinicName()))
	}

	sess.State.Client = &ClientRef{ID: client.ID, Name: client.Name}
	advance(sess, r.metrics, Idle{})
	r.logger.Info("client registered", "tenant_id", sess.TenantID(), "client_id", client.ID)
	return r.replier.Reply(ctx, sess, msgRegistered(sess.ClinicName(), client.Name))
}
