package dialer

import (
	"context"
	"fmt"
	"time"
)

// EventKind тип события жизненного цикла плеча вызова
type EventKind int

const (
	Ringing EventKind = iota + 1
	Answered
	Busy
	NoAnswer
	Failed
	// Ended удалённая сторона завершила уже отвеченный вызов
	Ended
)

func (k EventKind) String() string {
	switch k {
	case Ringing:
		return "ringing"
	case Answered:
		return "answered"
	case Busy:
		return "busy"
	case NoAnswer:
		return "no_answer"
	case Failed:
		return "failed"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Terminal сообщает, завершает ли событие плечо
func (k EventKind) Terminal() bool {
	switch k {
	case Busy, NoAnswer, Failed, Ended:
		return true
	}
	return false
}

// Event событие плеча вызова
type Event struct {
	Kind   EventKind
	LegID  string
	Reason string // заполняется для Failed и NoAnswer
	At     time.Time
}

// Backend размещает исходящий вызов конкретным способом (SIP, Twilio)
type Backend interface {
	Name() string
	// Place начинает вызов и возвращает плечо сразу после отправки.
	// Ошибка означает, что вызов не был размещён.
	Place(ctx context.Context, legID string, target Target) (Leg, error)
}

// Leg размещённое плечо вызова
type Leg interface {
	// Events отдаёт Ringing/Answered/Busy/NoAnswer/Failed/Ended
	// и закрывается, когда плечо завершено.
	Events() <-chan Event
	// Hangup завершает плечо в любой фазе: до ответа отменяет вызов,
	// после ответа кладёт трубку. Повторный вызов ничего не делает.
	Hangup(ctx context.Context) error
}
