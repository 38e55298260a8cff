package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

const defaultPollInterval = time.Second

// TwilioCallsAPI часть Twilio REST API, которой пользуется backend
type TwilioCallsAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	FetchCall(sid string, params *openapi.FetchCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioConfig настройки Twilio backend
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From номер, с которого звонит движок
	From string
	// StreamURL wss адрес медиа слоя для <Connect><Stream>
	StreamURL string
	// RingTimeout передаётся в Twilio как Timeout вызова
	RingTimeout  time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// TwilioBackend размещает вызовы через Twilio REST API
type TwilioBackend struct {
	cfg    TwilioConfig
	api    TwilioCallsAPI
	logger *slog.Logger
}

// NewTwilioBackend создаёт backend с REST клиентом twilio-go
func NewTwilioBackend(cfg TwilioConfig) (*TwilioBackend, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("не заданы TWILIO_ACCOUNT_SID и TWILIO_AUTH_TOKEN")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return NewTwilioBackendWithAPI(cfg, client.Api)
}

// NewTwilioBackendWithAPI создаёт backend поверх готового API
func NewTwilioBackendWithAPI(cfg TwilioConfig, api TwilioCallsAPI) (*TwilioBackend, error) {
	if cfg.From == "" {
		return nil, fmt.Errorf("не задан TWILIO_FROM_NUMBER")
	}
	if cfg.StreamURL == "" {
		return nil, fmt.Errorf("не задан TWILIO_STREAM_URL")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TwilioBackend{
		cfg:    cfg,
		api:    api,
		logger: cfg.Logger.With(slog.String("component", "twilio_backend")),
	}, nil
}

// Name имя backend
func (b *TwilioBackend) Name() string {
	return "twilio"
}

// streamTwiML подключает отвеченный вызов к медиа слою через Media Streams
func streamTwiML(streamURL, legID string) (string, error) {
	stream := &twiml.VoiceStream{
		Url:  streamURL,
		Name: legID,
	}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	return twiml.Voice([]twiml.Element{connect})
}

// Place создаёт вызов через CreateCall
func (b *TwilioBackend) Place(ctx context.Context, legID string, target Target) (Leg, error) {
	if target.IsSIP() {
		return nil, fmt.Errorf("%w: twilio backend не звонит на SIP URI %q", ErrInvalidTarget, target.Address)
	}
	doc, err := streamTwiML(b.cfg.StreamURL, legID)
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования TwiML: %w", err)
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(target.NormalizedAddress())
	params.SetFrom(b.cfg.From)
	params.SetTwiml(doc)
	if b.cfg.RingTimeout > 0 {
		params.SetTimeout(int(b.cfg.RingTimeout.Seconds()))
	}
	if target.Extension != "" {
		params.SetSendDigits(target.Extension)
	}

	call, err := b.api.CreateCall(params)
	if err != nil {
		return nil, fmt.Errorf("ошибка CreateCall: %w", err)
	}
	if call == nil || call.Sid == nil {
		return nil, fmt.Errorf("CreateCall вернул вызов без SID")
	}

	leg := &twilioLeg{
		id:     legID,
		sid:    *call.Sid,
		api:    b.api,
		poll:   b.cfg.PollInterval,
		events: make(chan Event, 4),
		done:   make(chan struct{}),
		logger: b.logger.With(slog.String("leg_id", legID), slog.String("call_sid", *call.Sid)),
	}
	go leg.run(ctx)
	return leg, nil
}

// classifyCallStatus сопоставляет статус вызова Twilio событию.
// ok=false для промежуточных статусов без события.
func classifyCallStatus(status string, answered bool) (EventKind, bool) {
	switch strings.ToLower(status) {
	case "ringing":
		return Ringing, true
	case "in-progress":
		return Answered, true
	case "busy":
		return Busy, true
	case "no-answer":
		return NoAnswer, true
	case "failed", "canceled":
		if answered {
			return Ended, true
		}
		return Failed, true
	case "completed":
		if answered {
			return Ended, true
		}
		return Failed, true
	default:
		// queued, initiated
		return 0, false
	}
}

type twilioLeg struct {
	id     string
	sid    string
	api    TwilioCallsAPI
	poll   time.Duration
	events chan Event
	done   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	answered bool
	once     sync.Once
}

func (l *twilioLeg) Events() <-chan Event {
	return l.events
}

func (l *twilioLeg) send(kind EventKind, reason string) bool {
	select {
	case l.events <- Event{Kind: kind, LegID: l.id, Reason: reason, At: time.Now()}:
		return true
	case <-l.done:
		return false
	}
}

func (l *twilioLeg) run(ctx context.Context) {
	defer close(l.events)

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	last := ""
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
		}

		call, err := l.api.FetchCall(l.sid, &openapi.FetchCallParams{})
		if err != nil {
			// сетевые сбои опроса не завершают вызов
			l.logger.Debug("ошибка FetchCall", slog.Any("error", err))
			continue
		}
		if call == nil || call.Status == nil || *call.Status == last {
			continue
		}
		last = *call.Status

		l.mu.Lock()
		answered := l.answered
		l.mu.Unlock()

		kind, ok := classifyCallStatus(last, answered)
		if !ok {
			continue
		}
		if kind == Ringing && answered {
			continue
		}
		if kind == Answered {
			l.mu.Lock()
			l.answered = true
			l.mu.Unlock()
		}
		if !l.send(kind, "twilio "+last) || kind.Terminal() {
			return
		}
	}
}

// Hangup до ответа отменяет вызов, после ответа завершает его
func (l *twilioLeg) Hangup(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.done)

		l.mu.Lock()
		status := "canceled"
		if l.answered {
			status = "completed"
		}
		l.mu.Unlock()

		err = l.update(status)
		if err != nil && status == "canceled" {
			// вызов мог быть отвечен между опросами
			err = l.update("completed")
		}
	})
	return err
}

func (l *twilioLeg) update(status string) error {
	params := &openapi.UpdateCallParams{}
	params.SetStatus(status)
	if _, err := l.api.UpdateCall(l.sid, params); err != nil {
		return fmt.Errorf("ошибка UpdateCall %s: %w", status, err)
	}
	return nil
}
