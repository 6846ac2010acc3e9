package conversation

import (
	"context"
	"fmt"

	"github.com/wolfman30/clinic-whatsapp-ai/internal/inbox"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/messaging"
	"github.com/wolfman30/clinic-whatsapp-ai/internal/observability/metrics"
	"github.com/wolfman30/clinic-whatsapp-ai/pkg/logging"
)

// Replier sends a message to the user and then mirrors it to the support
// inbox. Mirror failures never fail the reply.
type Replier struct {
	sender  messaging.Sender
	mirror  inbox.Mirror
	metrics *metrics.ConversationMetrics
	logger  *logging.Logger
}

func NewReplier(sender messaging.Sender, mirror inbox.Mirror, m *metrics.ConversationMetrics, logger *logging.Logger) *Replier {
	if sender == nil {
		panic("conversation: sender required")
	}
	if mirror == nil {
		mirror = inbox.NoopMirror{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Replier{sender: sender, mirror: mirror, metrics: m, logger: logger}
}

// Reply answers the sender from the number the message arrived at.
func (r *Replier) Reply(ctx context.Context, sess *Session, text string, buttons ...string) error {
	err := r.sender.SendMessage(ctx, messaging.OutboundMessage{
		FromNumberID: sess.Message.NumberID,
		To:           sess.Phone(),
		Text:         text,
		Buttons:      buttons,
	})
	if err != nil {
		r.logger.Error("failed to send reply", "phone", logging.MaskPhone(sess.Phone()), "error", err)
		return fmt.Errorf("conversation: send reply: %w", err)
	}

	mirrored := text
	if len(buttons) > 0 {
		mirrored = messaging.NumberedOptions(text, buttons)
	}
	r.record(ctx, sess, mirrored, inbox.Outgoing)
	return nil
}

// MirrorIncoming copies the user's message to the support inbox.
func (r *Replier) MirrorIncoming(ctx context.Context, sess *Session, text string) {
	r.record(ctx, sess, text, inbox.Incoming)
}

func (r *Replier) record(ctx context.Context, sess *Session, text string, direction inbox.Direction) {
	id, err := r.mirror.Record(ctx, inbox.Entry{
		Phone:          sess.Phone(),
		Name:           sess.Message.PushName,
		Text:           text,
		Direction:      direction,
		ConversationID: sess.State.InboxConversationID,
	})
	if err != nil {
		r.metrics.ObserveMirrorFailure(string(direction))
		r.logger.Warn("inbox mirror failed", "phone", logging.MaskPhone(sess.Phone()), "direction", direction, "error", err)
		return
	}
	if id != 0 {
		sess.State.InboxConversationID = id
	}
}
