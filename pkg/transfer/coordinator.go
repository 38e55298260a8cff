// Package transfer ведёт тёплый перевод вызова: удержание клиента,
// дозвон до специалиста, брифинг, соединение или возврат к боту.
//
// Все изменения состояния выполняет одна горутина цикла событий.
// Аудио потоки не ждут координатор: он только переключает атомарные
// флаги gate.Registry и музыку удержания.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/warm_transfer/pkg/dialer"
	"github.com/arzzra/warm_transfer/pkg/gate"
	"github.com/arzzra/warm_transfer/pkg/metrics"
)

const (
	hangupTimeout  = 5 * time.Second
	outcomesBuffer = 16
)

// Config зависимости координатора
type Config struct {
	Dialer  Dialer
	Speaker Speaker
	Gates   *gate.Registry
	// Hold музыка удержания; nil означает удержание без музыки
	Hold HoldMixer
	// HoldError ошибка загрузки музыки удержания. Если задана,
	// координатор отклоняет все запросы с ErrBadAudioAsset.
	HoldError error
	// Releaser отключает бота после соединения (опционально)
	Releaser  BotReleaser
	OnOutcome OutcomeFunc
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

type speechPurpose int

const (
	speechHold speechPurpose = iota + 1
	speechBrief
)

type requestMsg struct {
	req   Request
	reply chan requestReply
}

type requestReply struct {
	handle Handle
	err    error
}

type cancelMsg struct {
	handle Handle
	hangup bool
	reply  chan error
}

type loopEvent struct {
	// событие дозвона
	dial *dialer.Event
	// завершение фразы
	speech   speechPurpose
	token    uint64
	speakErr error
	// запрос нового вызова
	newCall chan error
}

// Coordinator машина состояний тёплого перевода для одного вызова
type Coordinator struct {
	cfg    Config
	logger *slog.Logger
	fsm    *fsm.FSM

	requests chan requestMsg
	cancels  chan cancelMsg
	events   chan loopEvent
	outcomes chan Outcome

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	state    atomic.Value // State
	snapshot atomic.Pointer[Session]

	// Поля ниже принадлежат горутине цикла
	session      *Session
	req          Request
	sessCtx      context.Context
	sessCancel   context.CancelFunc
	attempt      *dialer.Attempt
	speechSeq    uint64
	speechToken  uint64
	speechCancel context.CancelFunc
	// фраза о неудаче после Fallback
	failureCancel context.CancelFunc
	// контекст соединённого плеча живёт до NewCall
	bridgedCancel context.CancelFunc
	log           *slog.Logger
}

// New создаёт координатор и запускает цикл событий
func New(cfg Config) (*Coordinator, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("не задан Dialer")
	}
	if cfg.Speaker == nil {
		return nil, fmt.Errorf("не задан Speaker")
	}
	if cfg.Gates == nil {
		cfg.Gates = gate.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      cfg,
		logger:   cfg.Logger.With(slog.String("component", "transfer_coordinator")),
		requests: make(chan requestMsg),
		cancels:  make(chan cancelMsg, 4),
		events:   make(chan loopEvent, 16),
		outcomes: make(chan Outcome, outcomesBuffer),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.log = c.logger
	c.state.Store(StateActive)
	c.fsm = newTransferFSM(c.logger, func(_, to State) {
		c.state.Store(to)
	})

	c.wg.Add(2)
	go c.loop()
	go c.dispatchOutcomes()
	return c, nil
}

// RequestTransfer принимает запрос перевода.
//
// Ошибка возвращается до каких-либо побочных эффектов: ErrAlreadyTransferring,
// ErrInvalidRequest, ErrBadAudioAsset, ErrNotActive или ErrClosed.
func (c *Coordinator) RequestTransfer(ctx context.Context, req Request) (Handle, error) {
	msg := requestMsg{req: req, reply: make(chan requestReply, 1)}
	select {
	case c.requests <- msg:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", ErrClosed
	}
	select {
	case r := <-msg.reply:
		return r.handle, r.err
	case <-c.done:
		return "", ErrClosed
	}
}

// CancelTransfer отменяет перевод h. Клиент возвращается к боту.
func (c *Coordinator) CancelTransfer(h Handle) error {
	msg := cancelMsg{handle: h, reply: make(chan error, 1)}
	select {
	case c.cancels <- msg:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-msg.reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// CustomerHangup сообщает, что клиент положил трубку.
// Текущий перевод завершается как Cancelled без дальнейших фраз.
func (c *Coordinator) CustomerHangup() {
	msg := cancelMsg{hangup: true, reply: make(chan error, 1)}
	select {
	case c.cancels <- msg:
	case <-c.done:
		return
	}
	select {
	case <-msg.reply:
	case <-c.done:
	}
}

// NewCall возвращает флаги Gate к исходному состоянию для следующего вызова.
// Пока идёт перевод, возвращает ErrAlreadyTransferring.
func (c *Coordinator) NewCall() error {
	reply := make(chan error, 1)
	select {
	case c.events <- loopEvent{newCall: reply}:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// State текущее состояние машины
func (c *Coordinator) State() State {
	return c.state.Load().(State)
}

// Session копия текущего перевода или nil
func (c *Coordinator) Session() *Session {
	s := c.snapshot.Load()
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Gates реестр флагов вызова
func (c *Coordinator) Gates() *gate.Registry {
	return c.cfg.Gates
}

// Close останавливает цикл. Незавершённый перевод завершается как Cancelled.
func (c *Coordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) dispatchOutcomes() {
	defer c.wg.Done()
	for o := range c.outcomes {
		if c.cfg.OnOutcome != nil {
			c.cfg.OnOutcome(o)
		}
	}
}

func (c *Coordinator) loop() {
	defer c.wg.Done()
	defer close(c.outcomes)
	defer close(c.done)

	for {
		// Отмена проверяется до любого другого события
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case m := <-c.cancels:
			c.handleCancel(m)
			continue
		default:
		}

		select {
		case <-c.ctx.Done():
			c.shutdown()
			return
		case m := <-c.cancels:
			c.handleCancel(m)
		case m := <-c.requests:
			c.drainCancels()
			c.handleRequest(m)
		case ev := <-c.events:
			c.drainCancels()
			c.handleEvent(ev)
		}
	}
}

func (c *Coordinator) drainCancels() {
	for {
		select {
		case m := <-c.cancels:
			c.handleCancel(m)
		default:
			return
		}
	}
}

func (c *Coordinator) event(name string) {
	if err := c.fsm.Event(context.Background(), name); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return
		}
		c.log.Error("недопустимый переход", slog.String("event", name), slog.Any("error", err))
	}
}

func (c *Coordinator) publish() {
	if c.session == nil {
		c.snapshot.Store(nil)
		return
	}
	c.session.State = c.State()
	cp := *c.session
	c.snapshot.Store(&cp)
}

func (c *Coordinator) handleRequest(m requestMsg) {
	reply := func(h Handle, err error) {
		m.reply <- requestReply{handle: h, err: err}
	}

	if c.cfg.HoldError != nil {
		reply("", newError(ErrorCodeBadAudioAsset, "музыка удержания не загружена", c.cfg.HoldError))
		return
	}
	if c.session != nil {
		reply("", ErrAlreadyTransferring)
		return
	}
	if c.State() != StateActive {
		reply("", ErrNotActive)
		return
	}
	if err := m.req.Validate(); err != nil {
		reply("", err)
		return
	}

	c.stopFailure()
	req := m.req.clone()
	id := Handle(uuid.NewString())
	c.session = &Session{ID: id, StartedAt: time.Now()}
	c.req = req
	c.sessCtx, c.sessCancel = context.WithCancel(c.ctx)
	c.log = c.logger.With(slog.String("transfer_id", string(id)))

	c.event(evRequest)
	c.publish()
	c.cfg.Metrics.TransferStarted()
	c.log.Info("перевод принят", slog.Int("targets", len(req.Targets)))
	reply(id, nil)

	// Фраза удержания звучит клиенту, пока bot -> customer открыт
	c.cfg.Gates.Party(gate.Bot).Route(gate.Customer)
	c.speak(speechHold, gate.Customer, req.Messages.Hold)
}

func (c *Coordinator) handleCancel(m cancelMsg) {
	if m.hangup {
		c.stopFailure()
	}
	if c.session == nil || (!m.hangup && m.handle != c.session.ID) {
		if m.hangup {
			m.reply <- nil
		} else {
			m.reply <- ErrUnknownHandle
		}
		return
	}

	reason := ReasonCancelled
	if m.hangup {
		reason = ReasonCustomerHangup
	}
	c.log.Info("перевод отменён", slog.String("reason", reason), slog.String("state", string(c.State())))

	c.abortSession()
	c.event(evCancel)
	c.finish(Cancelled, reason, nil)
	c.event(evReset)
	m.reply <- nil
}

// abortSession останавливает фразы, кладёт плечо специалиста и
// возвращает флаги к исходному состоянию
func (c *Coordinator) abortSession() {
	c.stopSpeech()
	if c.attempt != nil {
		hctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		if err := c.cfg.Dialer.Hangup(hctx, c.attempt.LegID); err != nil {
			c.log.Warn("ошибка завершения плеча специалиста", slog.Any("error", err))
		}
		cancel()
		c.attempt = nil
	}
	c.sessCancel()
	c.stopHold()
	c.cfg.Gates.Reset()
}

func (c *Coordinator) handleEvent(ev loopEvent) {
	switch {
	case ev.newCall != nil:
		c.handleNewCall(ev.newCall)
	case ev.dial != nil:
		c.handleDial(*ev.dial)
	case ev.speech != 0:
		c.handleSpeechDone(ev)
	}
}

func (c *Coordinator) handleNewCall(reply chan error) {
	if c.session != nil {
		reply <- ErrAlreadyTransferring
		return
	}
	c.releaseBridged()
	c.stopHold()
	c.cfg.Gates.Reset()
	if c.State() != StateActive {
		c.event(evReset)
	}
	reply <- nil
}

func (c *Coordinator) handleSpeechDone(ev loopEvent) {
	if c.session == nil || ev.token != c.speechToken {
		return
	}
	c.speechCancel = nil
	if ev.speakErr != nil {
		// фраза не прозвучала полностью, но перевод продолжается
		c.log.Warn("ошибка воспроизведения фразы", slog.Any("error", ev.speakErr))
	}

	switch {
	case ev.speech == speechHold && c.State() == StateHolding:
		c.cfg.Gates.Unlink(gate.Customer, gate.Bot)
		c.cfg.Gates.Party(gate.Bot).CloseAll()
		if c.cfg.Hold != nil {
			c.cfg.Hold.StartHold()
		}
		c.event(evHoldDone)
		c.dialCurrent()

	case ev.speech == speechBrief && c.State() == StateBriefing:
		c.bridge()
	}
}

func (c *Coordinator) dialCurrent() {
	idx := c.session.AttemptIndex
	target := c.req.Targets[idx]
	log := c.log.With(slog.String("target", target.Name), slog.Int("attempt", idx+1))

	att, err := c.cfg.Dialer.Dial(c.sessCtx, target)
	if err != nil {
		log.Warn("дозвон не начат", slog.Any("error", err))
		c.cfg.Metrics.DialResult(dialer.Failed.String())
		c.advance(err.Error())
		return
	}
	c.attempt = att
	c.session.LegID = att.LegID
	c.publish()
	log.Info("дозвон до специалиста", slog.String("leg_id", att.LegID))

	c.wg.Add(1)
	go c.forward(att)
}

// forward передаёт события плеча в цикл
func (c *Coordinator) forward(att *dialer.Attempt) {
	defer c.wg.Done()
	for {
		select {
		case ev, ok := <-att.Events:
			if !ok {
				return
			}
			select {
			case c.events <- loopEvent{dial: &ev}:
			case <-c.ctx.Done():
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) handleDial(ev dialer.Event) {
	if c.session == nil || c.attempt == nil || ev.LegID != c.attempt.LegID {
		c.logger.Debug("устаревшее событие плеча", slog.String("leg_id", ev.LegID), slog.String("event", ev.Kind.String()))
		return
	}
	log := c.log.With(
		slog.String("leg_id", ev.LegID),
		slog.String("state", string(c.State())),
		slog.String("event", ev.Kind.String()))

	switch c.State() {
	case StateDialing:
		switch ev.Kind {
		case dialer.Ringing:
			log.Debug("специалисту звонит")
		case dialer.Answered:
			log.Info("специалист ответил")
			c.cfg.Metrics.DialResult(ev.Kind.String())
			c.event(evAnswered)
			c.publish()
			// bot -> customer закрывается раньше, чем открывается bot -> specialist
			c.cfg.Gates.Party(gate.Bot).Route(gate.Specialist)
			c.speak(speechBrief, gate.Specialist, BriefText(c.req.Brief, c.req.Messages.Connecting))
		default:
			log.Info("специалист недоступен", slog.String("reason", ev.Reason))
			c.cfg.Metrics.DialResult(ev.Kind.String())
			c.attempt = nil
			c.advance(reasonFor(ev))
		}

	case StateBriefing:
		if !ev.Kind.Terminal() {
			return
		}
		// специалист положил трубку до конца брифинга: как NoAnswer
		log.Info("специалист отключился во время брифинга")
		c.cfg.Metrics.DialResult(dialer.NoAnswer.String())
		c.stopSpeech()
		c.cfg.Gates.Party(gate.Bot).CloseAll()
		c.attempt = nil
		c.event(evSpecialistLost)
		c.advance("specialist hangup during briefing")
	}
}

func reasonFor(ev dialer.Event) string {
	if ev.Reason != "" {
		return ev.Kind.String() + ": " + ev.Reason
	}
	return ev.Kind.String()
}

// advance переходит к следующему адресату или в Fallback
func (c *Coordinator) advance(reason string) {
	if c.session.AttemptIndex+1 < len(c.req.Targets) {
		c.session.AttemptIndex++
		c.session.LegID = ""
		c.publish()
		c.log.Info("следующий адресат", slog.String("previous", reason))
		c.dialCurrent()
		return
	}
	c.log.Info("все адресаты недоступны", slog.String("last", reason))
	c.cfg.Metrics.TargetsExhausted()
	c.fallback(ReasonTargetsExhausted)
}

func (c *Coordinator) fallback(reason string) {
	c.event(evExhausted)
	c.stopSpeech()
	c.sessCancel()
	c.stopHold()
	c.cfg.Gates.Reset()
	failure := c.req.Messages.Failure
	c.finish(Fallback, reason, nil)
	c.event(evRecover)

	// Фраза о неудаче не привязана к сессии: сессия уже завершена.
	// Её прерывает отбой клиента или следующий запрос.
	ctx, cancel := context.WithCancel(c.ctx)
	c.failureCancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		if err := c.cfg.Speaker.Speak(ctx, gate.Customer, failure); err != nil && ctx.Err() == nil {
			c.logger.Warn("ошибка воспроизведения фразы о неудаче", slog.Any("error", err))
		}
	}()
}

func (c *Coordinator) bridge() {
	target := c.req.Targets[c.session.AttemptIndex]
	c.stopHold()
	c.cfg.Gates.Isolate(gate.Bot)
	c.cfg.Gates.Link(gate.Customer, gate.Specialist)
	c.event(evBriefDone)
	c.log.Info("клиент соединён со специалистом", slog.String("target", target.Name))

	if c.cfg.Releaser != nil {
		rctx, cancel := context.WithTimeout(c.ctx, hangupTimeout)
		if err := c.cfg.Releaser.ReleaseBot(rctx); err != nil {
			c.log.Warn("ошибка отключения бота", slog.Any("error", err))
		}
		cancel()
	}
	// плечо специалиста остаётся в вызове, отменяется только контекст фраз
	c.attempt = nil
	c.stopSpeech()
	c.finish(Bridged, "", &target)
}

func (c *Coordinator) finish(kind OutcomeKind, reason string, target *Target) {
	s := c.session
	o := Outcome{
		Handle:   s.ID,
		Kind:     kind,
		Reason:   reason,
		Target:   target,
		Attempts: s.AttemptIndex + 1,
		Duration: time.Since(s.StartedAt),
	}
	s.LastOutcome = &o
	c.publish()
	c.cfg.Metrics.TransferFinished(kind.String(), reason, o.Duration)
	c.log.Info("перевод завершён",
		slog.String("outcome", kind.String()),
		slog.String("reason", reason),
		slog.Duration("duration", o.Duration))

	if kind == Bridged {
		c.bridgedCancel = c.sessCancel
	} else {
		c.sessCancel()
	}
	c.session = nil
	c.attempt = nil
	c.publish()
	c.log = c.logger

	c.outcomes <- o
}

func (c *Coordinator) speak(purpose speechPurpose, to gate.Role, text string) {
	c.stopSpeech()
	c.speechSeq++
	token := c.speechSeq
	c.speechToken = token

	ctx, cancel := context.WithCancel(c.sessCtx)
	c.speechCancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		err := c.cfg.Speaker.Speak(ctx, to, text)
		if ctx.Err() != nil {
			// отменённая фраза не продвигает перевод
			return
		}
		select {
		case c.events <- loopEvent{speech: purpose, token: token, speakErr: err}:
		case <-c.ctx.Done():
		}
	}()
}

func (c *Coordinator) stopSpeech() {
	if c.speechCancel != nil {
		c.speechCancel()
		c.speechCancel = nil
	}
	c.speechToken = 0
}

func (c *Coordinator) stopFailure() {
	if c.failureCancel != nil {
		c.failureCancel()
		c.failureCancel = nil
	}
}

// releaseBridged отпускает контекст плеча, соединённого прошлым переводом
func (c *Coordinator) releaseBridged() {
	if c.bridgedCancel != nil {
		c.bridgedCancel()
		c.bridgedCancel = nil
	}
}

func (c *Coordinator) stopHold() {
	if c.cfg.Hold != nil {
		c.cfg.Hold.StopHold()
	}
}

func (c *Coordinator) shutdown() {
	if c.session == nil {
		return
	}
	c.log.Info("координатор остановлен во время перевода")
	c.abortSession()
	c.event(evCancel)
	c.finish(Cancelled, ReasonClosed, nil)
}
