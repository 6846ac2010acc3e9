package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// StepKind names the dialogue step a conversation is parked in.
type StepKind string

const (
	KindIdle                      StepKind = "idle"
	KindRegistrationConsent       StepKind = "registration_consent"
	KindRegistrationName          StepKind = "registration_name"
	KindRegistrationEmail         StepKind = "registration_email"
	KindAwaitingDate              StepKind = "awaiting_date"
	KindAwaitingTime              StepKind = "awaiting_time"
	KindAwaitingEmployeeSelection StepKind = "awaiting_employee_selection"
	KindAwaitingConfirmation      StepKind = "awaiting_confirmation"
	KindAwaitingRevisedDate       StepKind = "awaiting_revised_date"
)

// ErrUnknownStep is returned when a persisted step kind is not recognised.
var ErrUnknownStep = errors.New("conversation: unknown step kind")

// Step is one variant of the dialogue state. Each variant only carries the
// fields valid in that step.
type Step interface {
	Kind() StepKind
}

type Idle struct{}

type RegistrationConsent struct{}

type RegistrationName struct{}

type RegistrationEmail struct {
	Name string `json:"name"`
}

type AwaitingDate struct{}

// AwaitingTime holds the clinic-local day (YYYY-MM-DD) already chosen.
type AwaitingTime struct {
	Date string `json:"date"`
}

type AwaitingEmployeeSelection struct {
	At         time.Time        `json:"at"`
	Candidates []EmployeeOption `json:"candidates"`
}

type AwaitingConfirmation struct {
	At       time.Time      `json:"at"`
	Employee EmployeeOption `json:"employee"`
}

type AwaitingRevisedDate struct{}

func (Idle) Kind() StepKind                      { return KindIdle }
func (RegistrationConsent) Kind() StepKind       { return KindRegistrationConsent }
func (RegistrationName) Kind() StepKind          { return KindRegistrationName }
func (RegistrationEmail) Kind() StepKind         { return KindRegistrationEmail }
func (AwaitingDate) Kind() StepKind              { return KindAwaitingDate }
func (AwaitingTime) Kind() StepKind              { return KindAwaitingTime }
func (AwaitingEmployeeSelection) Kind() StepKind { return KindAwaitingEmployeeSelection }
func (AwaitingConfirmation) Kind() StepKind      { return KindAwaitingConfirmation }
func (AwaitingRevisedDate) Kind() StepKind       { return KindAwaitingRevisedDate }

// EmployeeOption is an employee offered to the user.
type EmployeeOption struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TenantRef caches the resolved clinic for the conversation.
type TenantRef struct {
	ID         string `json:"id"`
	ClinicName string `json:"clinic_name"`
}

// ClientRef caches the registered client for the conversation.
type ClientRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

const maxIntentHistory = 10

// State is everything remembered between two messages of one sender.
type State struct {
	Tenant              *TenantRef    `json:"tenant,omitempty"`
	Client              *ClientRef    `json:"client,omitempty"`
	IntentRetries       int           `json:"intent_retries,omitempty"`
	IntentHistory       []ChatMessage `json:"intent_history,omitempty"`
	InboxConversationID int64         `json:"inbox_conversation_id,omitempty"`
	Step                Step          `json:"-"`
}

// NewState returns an idle state.
func NewState() *State {
	return &State{Step: Idle{}}
}

// CurrentStep never returns nil.
func (s *State) CurrentStep() Step {
	if s == nil || s.Step == nil {
		return Idle{}
	}
	return s.Step
}

// RememberUserTurn appends text to the rolling intent history.
func (s *State) RememberUserTurn(text string) {
	s.IntentHistory = append(s.IntentHistory, ChatMessage{Role: ChatRoleUser, Content: text})
	if len(s.IntentHistory) > maxIntentHistory {
		s.IntentHistory = s.IntentHistory[len(s.IntentHistory)-maxIntentHistory:]
	}
}

type stepEnvelope struct {
	Kind StepKind        `json:"kind"`
	Step json.RawMessage `json:"step,omitempty"`
}

type stateAlias State

type stateJSON struct {
	*stateAlias
	Step stepEnvelope `json:"step"`
}

func (s State) MarshalJSON() ([]byte, error) {
	step := s.CurrentStep()
	raw, err := json.Marshal(step)
	if err != nil {
		return nil, fmt.Errorf("conversation: encode step: %w", err)
	}
	alias := stateAlias(s)
	return json.Marshal(stateJSON{
		stateAlias: &alias,
		Step:       stepEnvelope{Kind: step.Kind(), Step: raw},
	})
}

func (s *State) UnmarshalJSON(data []byte) error {
	aux := stateJSON{stateAlias: (*stateAlias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	step, err := decodeStep(aux.Step)
	if err != nil {
		return err
	}
	s.Step = step
	return nil
}

func decodeStep(env stepEnvelope) (Step, error) {
	var step Step
	switch env.Kind {
	case KindIdle, "":
		return Idle{}, nil
	case KindRegistrationConsent:
		return RegistrationConsent{}, nil
	case KindRegistrationName:
		return RegistrationName{}, nil
	case KindAwaitingDate:
		return AwaitingDate{}, nil
	case KindAwaitingRevisedDate:
		return AwaitingRevisedDate{}, nil
	case KindRegistrationEmail:
		var v RegistrationEmail
		err := unmarshalStep(env.Step, &v)
		step = v
		return step, err
	case KindAwaitingTime:
		var v AwaitingTime
		err := unmarshalStep(env.Step, &v)
		step = v
		return step, err
	case KindAwaitingEmployeeSelection:
		var v AwaitingEmployeeSelection
		err := unmarshalStep(env.Step, &v)
		step = v
		return step, err
	case KindAwaitingConfirmation:
		var v AwaitingConfirmation
		err := unmarshalStep(env.Step, &v)
		step = v
		return step, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStep, env.Kind)
	}
}

func unmarshalStep(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("conversation: decode step: %w", err)
	}
	return nil
}
