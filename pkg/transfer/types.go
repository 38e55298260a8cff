package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arzzra/warm_transfer/pkg/dialer"
	"github.com/arzzra/warm_transfer/pkg/gate"
)

// Target адресат перевода
type Target = dialer.Target

// Сообщения по умолчанию
const (
	DefaultHoldMessage       = "I'm connecting you with a specialist. Please hold."
	DefaultFailureMessage    = "I'm sorry, I couldn't reach anyone at this time. How else can I help you?"
	DefaultConnectingMessage = "I have the customer ready. Let me bring them in now."
)

// Messages фразы, которые бот произносит во время перевода
type Messages struct {
	Hold       string `json:"hold_message,omitempty" yaml:"hold_message,omitempty"`
	Failure    string `json:"transfer_failed_message,omitempty" yaml:"transfer_failed_message,omitempty"`
	Connecting string `json:"connecting_message,omitempty" yaml:"connecting_message,omitempty"`
}

// DefaultMessages возвращает фразы по умолчанию
func DefaultMessages() Messages {
	return Messages{
		Hold:       DefaultHoldMessage,
		Failure:    DefaultFailureMessage,
		Connecting: DefaultConnectingMessage,
	}
}

// WithDefaults заполняет пустые фразы значениями по умолчанию
func (m Messages) WithDefaults() Messages {
	d := DefaultMessages()
	if strings.TrimSpace(m.Hold) == "" {
		m.Hold = d.Hold
	}
	if strings.TrimSpace(m.Failure) == "" {
		m.Failure = d.Failure
	}
	if strings.TrimSpace(m.Connecting) == "" {
		m.Connecting = d.Connecting
	}
	return m
}

// Request запрос перевода. После передачи координатору не изменяется.
type Request struct {
	Targets  []Target
	Messages Messages
	// Brief краткое описание проблемы клиента для специалиста
	Brief string
}

// Validate проверяет список адресатов
func (r Request) Validate() error {
	if len(r.Targets) == 0 {
		return newError(ErrorCodeInvalidRequest, "пустой список адресатов", nil)
	}
	var errs []error
	for i, t := range r.Targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("адресат %d: %w", i, err))
		}
	}
	if len(errs) > 0 {
		return newError(ErrorCodeInvalidRequest, "некорректные адресаты", errors.Join(errs...))
	}
	return nil
}

// clone копирует запрос, чтобы вызывающий не мог изменить его после передачи
func (r Request) clone() Request {
	r.Targets = append([]Target(nil), r.Targets...)
	r.Messages = r.Messages.WithDefaults()
	return r
}

// BriefText текст, который бот произносит специалисту перед соединением
func BriefText(brief, connecting string) string {
	return "A customer is on hold waiting to speak with you. Here's what they need help with:\n\n" +
		brief + "\n\n" + connecting
}

// State состояние перевода
type State string

const (
	StateActive    State = "active"
	StateHolding   State = "holding"
	StateDialing   State = "dialing"
	StateBriefing  State = "briefing"
	StateBridged   State = "bridged"
	StateFallback  State = "fallback"
	StateCancelled State = "cancelled"
)

// OutcomeKind итог перевода
type OutcomeKind int

const (
	Bridged OutcomeKind = iota + 1
	Fallback
	Cancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case Bridged:
		return "bridged"
	case Fallback:
		return "fallback"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Причины исхода
const (
	ReasonTargetsExhausted = "targets exhausted"
	ReasonCustomerHangup   = "customer hangup"
	ReasonCancelled        = "cancelled"
	ReasonClosed           = "coordinator closed"
)

// Handle идентификатор принятого перевода
type Handle string

// Outcome итог перевода, передаётся разговорному слою
type Outcome struct {
	Handle Handle
	Kind   OutcomeKind
	Reason string
	// Target адресат, с которым соединён клиент (только Bridged)
	Target   *Target
	Attempts int
	Duration time.Duration
}

// OutcomeFunc получает итог каждого перевода ровно один раз
type OutcomeFunc func(Outcome)

// Session состояние текущего перевода
type Session struct {
	ID           Handle
	State        State
	AttemptIndex int
	StartedAt    time.Time
	LegID        string
	LastOutcome  *Outcome
}

// Speaker разговорный слой: синтезирует text и проигрывает его участнику to.
// Возвращает управление, когда фраза полностью произнесена или ctx отменён.
type Speaker interface {
	Speak(ctx context.Context, to gate.Role, text string) error
}

// Dialer исходящие вызовы специалистам.
//
// Attempt.Events закрывается после терминального события плеча.
// Координатор не ждёт закрытия: после Hangup, отмены ctx у Dial или
// Close он перестаёт читать канал. Отмена ctx у Dial завершает плечо,
// поэтому контекст соединённого плеча отменяется только в NewCall и Close.
type Dialer interface {
	Dial(ctx context.Context, target Target) (*dialer.Attempt, error)
	Hangup(ctx context.Context, legID string) error
}

// HoldMixer музыка удержания
type HoldMixer interface {
	StartHold()
	StopHold()
}

// BotReleaser отключает бота от вызова после соединения
type BotReleaser interface {
	ReleaseBot(ctx context.Context) error
}
