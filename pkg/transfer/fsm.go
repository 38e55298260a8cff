package transfer

import (
	"context"
	"log/slog"

	"github.com/looplab/fsm"
)

// События машины состояний перевода
const (
	evRequest        = "request"         // принят запрос перевода
	evHoldDone       = "hold_done"       // фраза удержания произнесена
	evAnswered       = "answered"        // специалист ответил
	evSpecialistLost = "specialist_lost" // специалист положил трубку во время брифинга
	evExhausted      = "exhausted"       // адресаты закончились
	evRecover        = "recover"         // возврат к разговору с ботом
	evBriefDone      = "brief_done"      // брифинг произнесён
	evCancel         = "cancel"          // отмена или клиент положил трубку
	evReset          = "reset"           // новый вызов
)

// newTransferFSM таблица переходов перевода.
// Побочные эффекты выполняет цикл координатора после успешного перехода.
func newTransferFSM(logger *slog.Logger, onChange func(from, to State)) *fsm.FSM {
	active := string(StateActive)
	holding := string(StateHolding)
	dialing := string(StateDialing)
	briefing := string(StateBriefing)
	bridged := string(StateBridged)
	fallback := string(StateFallback)
	cancelled := string(StateCancelled)

	return fsm.NewFSM(
		active,
		fsm.Events{
			{Name: evRequest, Src: []string{active}, Dst: holding},
			{Name: evHoldDone, Src: []string{holding}, Dst: dialing},
			{Name: evAnswered, Src: []string{dialing}, Dst: briefing},
			{Name: evSpecialistLost, Src: []string{briefing}, Dst: dialing},
			{Name: evExhausted, Src: []string{dialing, briefing}, Dst: fallback},
			{Name: evRecover, Src: []string{fallback}, Dst: active},
			{Name: evBriefDone, Src: []string{briefing}, Dst: bridged},
			{Name: evCancel, Src: []string{holding, dialing, briefing}, Dst: cancelled},
			{Name: evReset, Src: []string{bridged, cancelled, active}, Dst: active},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if e.Src == e.Dst {
					return
				}
				logger.Debug("переход состояния",
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
				if onChange != nil {
					onChange(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
