package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/clinic"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// Engine is the entry point for one inbound WhatsApp message. It serialises
// messages of the same sender, restores their state, dispatches on the
// current step and persists the result.
type Engine struct {
	states       StateStore
	locker       Locker
	pauses       PauseChecker
	tenants      TenantResolver
	store        ClinicStore
	router       *Router
	dialogue     *Dialogue
	registration *Registration
	replier      *Replier
	archiver     MediaArchiver
	metrics      *metrics.ConversationMetrics
	logger       *logging.Logger
	now          func() time.Time
}

// EngineConfig groups the engine's collaborators. Archiver is optional.
type EngineConfig struct {
	States       StateStore
	Locker       Locker
	Pauses       PauseChecker
	Tenants      TenantResolver
	Store        ClinicStore
	Router       *Router
	Dialogue     *Dialogue
	Registration *Registration
	Replier      *Replier
	Archiver     MediaArchiver
	Metrics      *metrics.ConversationMetrics
	Logger       *logging.Logger
	Now          func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	switch {
	case cfg.States == nil:
		panic("conversation: state store required")
	case cfg.Pauses == nil:
		panic("conversation: pause registry required")
	case cfg.Tenants == nil:
		panic("conversation: tenant resolver required")
	case cfg.Store == nil:
		panic("conversation: clinic store required")
	case cfg.Router == nil || cfg.Dialogue == nil || cfg.Registration == nil:
		panic("conversation: flows required")
	case cfg.Replier == nil:
		panic("conversation: replier required")
	}
	if cfg.Locker == nil {
		cfg.Locker = NewMemoryLocker(10 * time.Second)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		states:       cfg.States,
		locker:       cfg.Locker,
		pauses:       cfg.Pauses,
		tenants:      cfg.Tenants,
		store:        cfg.Store,
		router:       cfg.Router,
		dialogue:     cfg.Dialogue,
		registration: cfg.Registration,
		replier:      cfg.Replier,
		archiver:     cfg.Archiver,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// HandleInbound processes one message under the sender's conversation lock.
func (e *Engine) HandleInbound(ctx context.Context, msg messaging.InboundMessage) error {
	key := ConversationKey(msg.NumberID, msg.From)
	return e.locker.WithLock(ctx, "conversation:"+key, func(ctx context.Context) error {
		return e.handle(ctx, key, msg)
	})
}

func (e *Engine) handle(ctx context.Context, key string, msg messaging.InboundMessage) error {
	ctx, span := stateTracer.Start(ctx, "conversation.engine.handle")
	defer span.End()

	state, err := e.states.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrUnknownStep) {
			span.RecordError(err)
			return err
		}
		e.logger.Warn("discarding unreadable conversation state", "phone", logging.MaskPhone(msg.From), "error", err)
		state = NewState()
	}
	sess := newSession(msg, state, e.now())

	e.replier.MirrorIncoming(ctx, sess, e.incomingText(ctx, sess))

	paused, err := e.pauses.IsPaused(ctx, sess.Phone())
	if err != nil {
		e.logger.Warn("pause lookup failed", "phone", logging.MaskPhone(sess.Phone()), "error", err)
	}
	// A paused conversation belongs to the agent: nothing is saved, not even
	// the inbox conversation id the mirror just resolved.
	if paused {
		e.logger.Debug("sender paused, bot silent", "phone", logging.MaskPhone(sess.Phone()))
		return nil
	}

	if sess.State.Tenant == nil {
		tenant, err := e.tenants.Resolve(ctx, msg.NumberID, msg.From)
		if err != nil {
			e.logger.Error("tenant resolution failed", "number_id", msg.NumberID, "phone", logging.MaskPhone(msg.From), "error", err)
			if replyErr := e.replier.Reply(ctx, sess, msgTenantError); replyErr != nil {
				return replyErr
			}
			return e.persist(ctx, sess)
		}
		sess.State.Tenant = &TenantRef{ID: tenant.ID, ClinicName: tenant.ClinicName}
	}
	span.SetAttributes(
		attribute.String("clinicai.tenant_id", sess.TenantID()),
		attribute.String("clinicai.step", string(sess.State.CurrentStep().Kind())),
	)

	var handleErr error
	if text := sess.Text(); text != "" {
		handleErr = e.dispatch(ctx, sess, text)
	}
	if err := e.persist(ctx, sess); err != nil {
		return err
	}
	if handleErr != nil {
		span.RecordError(handleErr)
		return handleErr
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, sess *Session, text string) error {
	step := sess.State.CurrentStep()
	switch {
	case e.registration.Handles(step):
		return e.registration.Handle(ctx, sess, text)
	case e.dialogue.Handles(step):
		return e.dialogue.Handle(ctx, sess, text)
	}

	if intent, ok := ReminderReply(text); ok {
		return e.router.AnswerReminder(ctx, sess, intent)
	}
	if sess.State.Client == nil {
		client, err := e.store.GetClient(ctx, sess.Phone(), sess.TenantID())
		switch {
		case errors.Is(err, clinic.ErrNotFound):
			if err := e.replier.Reply(ctx, sess, msgWelcome(sess.ClinicName())); err != nil {
				return err
			}
			return e.registration.Start(ctx, sess)
		case err != nil:
			e.logger.Error("failed to load client", "tenant_id", sess.TenantID(), "phone", logging.MaskPhone(sess.Phone()), "error", err)
			return e.replier.Reply(ctx, sess, msgVerifyError)
		}
		sess.State.Client = &ClientRef{ID: client.ID, Name: client.Name}
	}
	return e.router.Route(ctx, sess, text)
}

// persist clears finished conversations and saves the rest.
func (e *Engine) persist(ctx context.Context, sess *Session) error {
	ctx = context.WithoutCancel(ctx)
	if sess.Finished() {
		if err := e.states.Clear(ctx, sess.Key); err != nil {
			return fmt.Errorf("conversation: persist: %w", err)
		}
		return nil
	}
	if err := e.states.Save(ctx, sess.Key, sess.State); err != nil {
		return fmt.Errorf("conversation: persist: %w", err)
	}
	return nil
}

// incomingText is what the support inbox shows for the message: the body
// plus one line per attachment, archived when an archiver is configured.
func (e *Engine) incomingText(ctx context.Context, sess *Session) string {
	msg := sess.Message
	lines := make([]string, 0, 1+len(msg.Attachments))
	if body := strings.TrimSpace(msg.Body); body != "" {
		lines = append(lines, body)
	}
	for _, att := range msg.Attachments {
		ref := att.MediaID
		if e.archiver != nil {
			url, err := e.archiver.ArchiveAttachment(ctx, msg, att)
			if err != nil {
				e.logger.Warn("media archive failed", "message_id", msg.MessageID, "media_id", att.MediaID, "error", err)
			} else {
				ref = url
			}
		}
		lines = append(lines, fmt.Sprintf("[%s adjunto: %s]", msg.Type, ref))
	}
	return strings.Join(lines, "\n")
}
