// Package dialer размещает исходящие вызовы специалистам.
//
// Dialer не зависит от протокола: сам вызов размещает Backend (SIP через
// sipgo или Twilio REST). Dialer добавляет поверх него общие правила:
// таймаут звонка, разбор плеча до доставки Busy/NoAnswer/Failed,
// повтор транзиентных ошибок размещения и счётчик попыток.
// Между адресатами Dialer никогда не переключается сам.
package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRingTimeout время ожидания ответа по умолчанию
	DefaultRingTimeout = 30 * time.Second

	// ReasonRingTimeout причина NoAnswer по таймауту звонка
	ReasonRingTimeout = "ring timeout"

	hangupTimeout = 5 * time.Second
	eventsBuffer  = 8
)

// Config конфигурация Dialer
type Config struct {
	RingTimeout time.Duration
	Retry       RetryConfig
	Logger      *slog.Logger
}

// Attempt одна попытка дозвона до адресата
type Attempt struct {
	LegID  string
	Number int // порядковый номер попытки за время жизни Dialer, с 1
	Target Target
	Events <-chan Event
}

type legEntry struct {
	cancel   context.CancelFunc
	mu       sync.Mutex
	leg      Leg
	teardown sync.Once
}

// Dialer размещает вызовы через Backend
type Dialer struct {
	backend  Backend
	cfg      Config
	logger   *slog.Logger
	attempts atomic.Int64

	mu   sync.Mutex
	legs map[string]*legEntry
}

// New создаёт Dialer поверх backend
func New(backend Backend, cfg Config) *Dialer {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dialer{
		backend: backend,
		cfg:     cfg,
		logger:  cfg.Logger.With(slog.String("component", "dialer"), slog.String("backend", backend.Name())),
		legs:    make(map[string]*legEntry),
	}
}

// Attempts количество попыток дозвона за время жизни Dialer
func (d *Dialer) Attempts() int {
	return int(d.attempts.Load())
}

// RingTimeout настроенный таймаут звонка
func (d *Dialer) RingTimeout() time.Duration {
	return d.cfg.RingTimeout
}

// Dial начинает попытку дозвона до target.
//
// Возвращает сразу; результат приходит в Attempt.Events. Канал закрывается
// после терминального события. Отмена ctx завершает плечо без событий.
func (d *Dialer) Dial(ctx context.Context, target Target) (*Attempt, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	legID := uuid.NewString()
	number := int(d.attempts.Add(1))
	legCtx, cancel := context.WithCancel(ctx)
	entry := &legEntry{cancel: cancel}

	d.mu.Lock()
	d.legs[legID] = entry
	d.mu.Unlock()

	out := make(chan Event, eventsBuffer)
	logger := d.logger.With(
		slog.String("leg_id", legID),
		slog.String("target", target.Name),
		slog.Int("attempt", number))
	logger.Info("дозвон до адресата", slog.String("address", target.NormalizedAddress()))

	go d.run(legCtx, legID, target, entry, out, logger)

	return &Attempt{
		LegID:  legID,
		Number: number,
		Target: target,
		Events: out,
	}, nil
}

// Hangup завершает плечо в любой фазе. Неизвестное плечо игнорируется.
func (d *Dialer) Hangup(ctx context.Context, legID string) error {
	d.mu.Lock()
	entry, ok := d.legs[legID]
	d.mu.Unlock()
	if !ok {
		return nil
	}
	entry.cancel()
	return d.teardown(ctx, entry)
}

// ActiveLegs количество незавершённых плеч
func (d *Dialer) ActiveLegs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.legs)
}

func (d *Dialer) teardown(ctx context.Context, entry *legEntry) error {
	entry.mu.Lock()
	leg := entry.leg
	entry.mu.Unlock()
	if leg == nil {
		// плечо ещё не размещено: отмена контекста прервёт Place
		return nil
	}
	var err error
	entry.teardown.Do(func() {
		err = leg.Hangup(ctx)
	})
	return err
}

func (d *Dialer) run(ctx context.Context, legID string, target Target, entry *legEntry, out chan<- Event, logger *slog.Logger) {
	defer close(out)
	defer func() {
		d.mu.Lock()
		delete(d.legs, legID)
		d.mu.Unlock()
		entry.cancel()
	}()

	// Разбор плеча не должен зависеть от отменённого контекста попытки
	hangup := func() {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hangupTimeout)
		defer cancel()
		if err := d.teardown(hctx, entry); err != nil {
			logger.Warn("ошибка завершения плеча", slog.Any("error", err))
		}
	}

	emit := func(kind EventKind, reason string) bool {
		ev := Event{Kind: kind, LegID: legID, Reason: reason, At: time.Now()}
		logger.Debug("событие плеча", slog.String("event", kind.String()), slog.String("reason", reason))
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var leg Leg
	err := withRetry(ctx, d.cfg.Retry, logger, "place", func() error {
		var err error
		leg, err = d.backend.Place(ctx, legID, target)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("вызов не размещён", slog.Any("error", err))
		emit(Failed, fmt.Sprintf("place: %v", err))
		return
	}

	entry.mu.Lock()
	entry.leg = leg
	entry.mu.Unlock()

	ring := time.NewTimer(d.cfg.RingTimeout)
	defer ring.Stop()
	answered := false
	ringing := false

	for {
		select {
		case <-ctx.Done():
			hangup()
			return

		case <-ring.C:
			if answered {
				continue
			}
			logger.Info("адресат не ответил за отведённое время", slog.Duration("ring_timeout", d.cfg.RingTimeout))
			hangup()
			emit(NoAnswer, ReasonRingTimeout)
			return

		case ev, ok := <-leg.Events():
			if !ok {
				if answered {
					emit(Ended, "")
				} else {
					hangup()
					emit(Failed, "leg closed")
				}
				return
			}
			if ctx.Err() != nil {
				hangup()
				return
			}

			switch ev.Kind {
			case Ringing:
				if answered || ringing {
					continue
				}
				ringing = true
				if !emit(Ringing, "") {
					hangup()
					return
				}
			case Answered:
				if answered {
					continue
				}
				answered = true
				ring.Stop()
				if !emit(Answered, "") {
					hangup()
					return
				}
			case Busy, NoAnswer, Failed:
				hangup()
				if answered {
					emit(Ended, ev.Reason)
				} else {
					emit(ev.Kind, ev.Reason)
				}
				return
			case Ended:
				hangup()
				emit(Ended, ev.Reason)
				return
			}
		}
	}
}
