package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "clinicai"

// MessagingMetrics exposes counters/histograms for the WhatsApp channel.
type MessagingMetrics struct {
	inboundTotal   *prometheus.CounterVec
	outboundTotal  *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "inbound_messages_total",
			Help:      "Total inbound WhatsApp messages by type and outcome",
		}, []string{"message_type", "status"}),
		outboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "outbound_messages_total",
			Help:      "Total outbound WhatsApp sends",
		}, []string{"kind", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messaging",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.outboundTotal, m.webhookLatency)
	return m
}

func (m *MessagingMetrics) ObserveInbound(messageType, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(messageType, status).Inc()
}

// ObserveOutbound records a send of kind text, buttons or template.
func (m *MessagingMetrics) ObserveOutbound(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.outboundTotal.WithLabelValues(kind, status).Inc()
}

func (m *MessagingMetrics) ObserveWebhookLatency(source string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(source).Observe(seconds)
}

// ConversationMetrics covers the dialogue, the router and the LLM.
type ConversationMetrics struct {
	transitions   *prometheus.CounterVec
	intents       *prometheus.CounterVec
	appointments  *prometheus.CounterVec
	mirrorFailure *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
}

func NewConversationMetrics(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "dialogue_transitions_total",
			Help:      "Dialogue step transitions",
		}, []string{"from", "to"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "intent_classifications_total",
			Help:      "Router classification outcomes",
		}, []string{"classifier", "result"}),
		appointments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conversation",
			Name:      "appointments_total",
			Help:      "Appointment writes by outcome",
		}, []string{"outcome"}),
		mirrorFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "mirror_failures_total",
			Help:      "Failed support inbox mirror writes",
		}, []string{"direction"}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Latency of LLM completions",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"purpose", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.intents, m.appointments, m.mirrorFailure, m.llmLatency)
	return m
}

func (m *ConversationMetrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *ConversationMetrics) ObserveIntent(classifier, result string) {
	if m == nil {
		return
	}
	m.intents.WithLabelValues(classifier, result).Inc()
}

func (m *ConversationMetrics) ObserveAppointment(outcome string) {
	if m == nil {
		return
	}
	m.appointments.WithLabelValues(outcome).Inc()
}

func (m *ConversationMetrics) ObserveMirrorFailure(direction string) {
	if m == nil {
		return
	}
	m.mirrorFailure.WithLabelValues(direction).Inc()
}

func (m *ConversationMetrics) ObserveLLM(purpose string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmLatency.WithLabelValues(purpose, status).Observe(seconds)
}

// ReminderMetrics counts reminder sweep results.
type ReminderMetrics struct {
	sends *prometheus.CounterVec
}

func NewReminderMetrics(reg prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "sends_total",
			Help:      "Reminder template sends by status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sends)
	return m
}

func (m *ReminderMetrics) ObserveSend(err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.sends.WithLabelValues(status).Inc()
}
