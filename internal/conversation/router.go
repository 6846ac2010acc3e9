package conversation

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

const maxIntentRetries = 3

// Router decides what an idle, registered sender wants: to answer a pending
// appointment, to book, to ask something, or none of those.
type Router struct {
	store        ClinicStore
	pauses       PauseChecker
	confirmation ConfirmationClassifier
	intents      IntentClassifier
	faq          FAQResponder
	dialogue     *Dialogue
	replier      *Replier
	metrics      *metrics.ConversationMetrics
	logger       *logging.Logger
}

// RouterConfig groups the router's collaborators.
type RouterConfig struct {
	Store        ClinicStore
	Pauses       PauseChecker
	Confirmation ConfirmationClassifier
	Intents      IntentClassifier
	FAQ          FAQResponder
	Dialogue     *Dialogue
	Replier      *Replier
	Metrics      *metrics.ConversationMetrics
	Logger       *logging.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	switch {
	case cfg.Store == nil:
		panic("conversation: clinic store required")
	case cfg.Pauses == nil:
		panic("conversation: pause registry required")
	case cfg.Confirmation == nil || cfg.Intents == nil:
		panic("conversation: classifiers required")
	case cfg.FAQ == nil:
		panic("conversation: faq responder required")
	case cfg.Dialogue == nil:
		panic("conversation: dialogue required")
	case cfg.Replier == nil:
		panic("conversation: replier required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Router{
		store:        cfg.Store,
		pauses:       cfg.Pauses,
		confirmation: cfg.Confirmation,
		intents:      cfg.Intents,
		faq:          cfg.FAQ,
		dialogue:     cfg.Dialogue,
		replier:      cfg.Replier,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// Route handles one message of an idle conversation.
func (r *Router) Route(ctx context.Context, sess *Session, text string) error {
	ctx, span := stateTracer.Start(ctx, "conversation.router.route")
	defer span.End()

	paused, err := r.pauses.IsPaused(ctx, sess.Phone())
	if err != nil {
		r.logger.Warn("pause lookup failed", "phone", logging.MaskPhone(sess.Phone()), "error", err)
	}
	if paused {
		return nil
	}
	if sess.State.Tenant == nil {
		return r.replier.Reply(ctx, sess, msgConfigError)
	}
	span.SetAttributes(attribute.String("clinicai.tenant_id", sess.TenantID()))

	appt, err := r.store.FindRelevantAppointment(ctx, sess.Phone(), sess.TenantID(), sess.Now)
	switch {
	case err == nil:
		intent, err := r.confirmation.ClassifyConfirmation(ctx, text)
		if err != nil {
			r.logger.Warn("confirmation classification failed", "tenant_id", sess.TenantID(), "error", err)
			intent = ConfirmationOther
		}
		if intent != ConfirmationOther {
			return r.answerAppointment(ctx, sess, appt, intent)
		}
	case !errors.Is(err, clinic.ErrNotFound):
		r.logger.Warn("relevant appointment lookup failed", "tenant_id", sess.TenantID(), "error", err)
	}

	sess.State.RememberUserTurn(text)
	intent, err := r.intents.ClassifyIntent(ctx, sess.ClinicName(), registeredName(sess), sess.State.IntentHistory)
	if err != nil {
		r.logger.Error("intent classification failed", "tenant_id", sess.TenantID(), "error", err)
		return r.replier.Reply(ctx, sess, msgInternalError)
	}
	span.SetAttributes(attribute.String("clinicai.intent", string(intent)))

	switch intent {
	case IntentAppointment:
		sess.State.IntentRetries = 0
		return r.dialogue.Begin(ctx, sess, text)
	case IntentFAQ:
		sess.State.IntentRetries = 0
		answer, err := r.faq.Answer(ctx, sess.TenantID(), registeredName(sess), text)
		if err != nil {
			r.logger.Error("faq answer failed", "tenant_id", sess.TenantID(), "error", err)
			return r.replier.Reply(ctx, sess, msgFAQError)
		}
		return r.replier.Reply(ctx, sess, answer)
	default:
		return r.retry(ctx, sess)
	}
}

func (r *Router) retry(ctx context.Context, sess *Session) error {
	if sess.State.IntentRetries >= maxIntentRetries {
		sess.State.IntentRetries = 0
		return r.replier.Reply(ctx, sess, msgRetryLimit)
	}
	sess.State.IntentRetries++
	return r.replier.Reply(ctx, sess, msgRetry(registeredName(sess)))
}

// AnswerReminder applies an exact reminder reply to the sender's relevant
// appointment without consulting the model.
func (r *Router) AnswerReminder(ctx context.Context, sess *Session, intent ConfirmationIntent) error {
	appt, err := r.store.FindRelevantAppointment(ctx, sess.Phone(), sess.TenantID(), sess.Now)
	switch {
	case errors.Is(err, clinic.ErrNotFound):
		return r.replier.Reply(ctx, sess, msgNoRelevant)
	case err != nil:
		r.logger.Error("relevant appointment lookup failed", "tenant_id", sess.TenantID(), "error", err)
		return r.replier.Reply(ctx, sess, msgStatusUpdateError(sess.ClinicName()))
	}
	return r.answerAppointment(ctx, sess, appt, intent)
}

// answerAppointment moves the appointment to the requested status. Repeating
// a confirmation or a cancellation changes nothing.
func (r *Router) answerAppointment(ctx context.Context, sess *Session, appt *clinic.Appointment, intent ConfirmationIntent) error {
	clinicName := sess.ClinicName()
	var target clinic.AppointmentStatus
	switch intent {
	case ConfirmationConfirm:
		switch appt.Status {
		case clinic.StatusConfirmed:
			return r.replier.Reply(ctx, sess, msgAlreadyConfirmed(clinicName))
		case clinic.StatusCancelled:
			return r.replier.Reply(ctx, sess, msgConfirmCancelled(clinicName))
		}
		target = clinic.StatusConfirmed
	case ConfirmationCancel:
		if appt.Status == clinic.StatusCancelled {
			return r.replier.Reply(ctx, sess, msgAlreadyCancelled(clinicName))
		}
		target = clinic.StatusCancelled
	default:
		return nil
	}

	if _, err := r.store.UpdateAppointmentStatus(ctx, appt.ID, target, sess.TenantID()); err != nil {
		r.logger.Error("failed to update appointment status", "tenant_id", sess.TenantID(), "appointment_id", appt.ID, "status", target, "error", err)
		return r.replier.Reply(ctx, sess, msgStatusUpdateError(clinicName))
	}
	r.metrics.ObserveAppointment(string(target))
	r.logger.Info("appointment status updated", "tenant_id", sess.TenantID(), "appointment_id", appt.ID, "status", target)

	if target == clinic.StatusConfirmed {
		return r.replier.Reply(ctx, sess, msgConfirmed(clinicName))
	}
	return r.replier.Reply(ctx, sess, msgCancelled(clinicName))
}

func registeredName(sess *Session) string {
	if sess.State.Client == nil {
		return ""
	}
	return sess.State.Client.Name
}
