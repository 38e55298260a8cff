package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// SIPConfig настройки SIP backend
type SIPConfig struct {
	// ListenAddr адрес для входящих запросов (BYE от специалиста), host:port
	ListenAddr string
	// PublicHost адрес в Contact; по умолчанию host из ListenAddr
	PublicHost string
	// ContactUser user часть Contact URI
	ContactUser string
	// TrunkHost SIP транк для вызова E.164 номеров
	TrunkHost string
	// Media куда специалист будет отправлять RTP
	Media     MediaEndpoint
	UserAgent string
	Logger    *slog.Logger
}

// SIPBackend размещает вызовы через SIP INVITE (sipgo)
type SIPBackend struct {
	cfg    SIPConfig
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server
	dc     *sipgo.DialogClientCache
	logger *slog.Logger
}

// NewSIPBackend создаёт SIP стек. Для приёма BYE нужно запустить Serve.
func NewSIPBackend(cfg SIPConfig) (*SIPBackend, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "warm-transfer"
	}
	if cfg.ContactUser == "" {
		cfg.ContactUser = "transfer"
	}

	host, portStr, err := net.SplitHostPort(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("некорректный SIP адрес %q: %w", cfg.ListenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("некорректный SIP порт %q: %w", portStr, err)
	}
	if cfg.PublicHost != "" {
		host = cfg.PublicHost
	}
	if host == "" || host == "0.0.0.0" {
		return nil, fmt.Errorf("не задан публичный SIP адрес")
	}

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(cfg.UserAgent),
		sipgo.WithUserAgentHostname(host),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания User Agent: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(host))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("ошибка создания клиента: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("ошибка создания сервера: %w", err)
	}

	contact := sip.ContactHeader{
		Address: sip.Uri{User: cfg.ContactUser, Host: host, Port: port},
	}
	b := &SIPBackend{
		cfg:    cfg,
		ua:     ua,
		client: client,
		server: server,
		dc:     sipgo.NewDialogClientCache(client, contact),
		logger: cfg.Logger.With(slog.String("component", "sip_backend")),
	}
	server.OnBye(b.handleBye)
	return b, nil
}

// Name имя backend
func (b *SIPBackend) Name() string {
	return "sip"
}

// Serve принимает входящие SIP запросы до отмены ctx
func (b *SIPBackend) Serve(ctx context.Context) error {
	b.logger.Info("SIP сервер запущен", slog.String("addr", b.cfg.ListenAddr))
	return b.server.ListenAndServe(ctx, "udp", b.cfg.ListenAddr)
}

// Close освобождает SIP стек
func (b *SIPBackend) Close() error {
	return b.ua.Close()
}

func (b *SIPBackend) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	if err := b.dc.ReadBye(req, tx); err != nil {
		b.logger.Debug("BYE вне известного диалога", slog.Any("error", err))
		res := sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil)
		if err := tx.Respond(res); err != nil {
			b.logger.Warn("ошибка ответа на BYE", slog.Any("error", err))
		}
	}
}

// Place отправляет INVITE и возвращает плечо, не дожидаясь ответа
func (b *SIPBackend) Place(ctx context.Context, legID string, target Target) (Leg, error) {
	uriStr := inviteURI(target, b.cfg.TrunkHost)
	var uri sip.Uri
	if err := sip.ParseUri(uriStr, &uri); err != nil {
		return nil, fmt.Errorf("некорректный SIP URI %q: %w", uriStr, err)
	}
	body, err := buildOffer(b.cfg.Media)
	if err != nil {
		return nil, err
	}

	invCtx, cancel := context.WithCancel(ctx)
	sess, err := b.dc.Invite(invCtx, uri, body, sip.NewHeader("Content-Type", "application/sdp"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ошибка отправки INVITE на %s: %w", uriStr, err)
	}

	leg := &sipLeg{
		id:     legID,
		sess:   sess,
		cancel: cancel,
		events: make(chan Event, 4),
		done:   make(chan struct{}),
		logger: b.logger.With(slog.String("leg_id", legID)),
	}
	go leg.run(invCtx)
	return leg, nil
}

// inviteURI строит Request-URI для адресата.
// Номер E.164 отправляется через транк, добавочный передаётся параметром ext.
func inviteURI(t Target, trunk string) string {
	var uri string
	if t.IsSIP() {
		uri = t.NormalizedAddress()
	} else {
		uri = fmt.Sprintf("sip:%s@%s;user=phone", t.NormalizedAddress(), trunk)
	}
	if t.Extension != "" {
		uri += ";ext=" + t.Extension
	}
	return uri
}

// classifyStatus сопоставляет финальный SIP ответ событию
func classifyStatus(code int) (EventKind, string) {
	switch {
	case code >= 200 && code < 300:
		return Answered, ""
	case code == 486 || code == 600 || code == 603:
		return Busy, fmt.Sprintf("sip %d", code)
	case code == 408 || code == 480 || code == 487:
		return NoAnswer, fmt.Sprintf("sip %d", code)
	case code >= 300:
		return Failed, fmt.Sprintf("sip %d", code)
	default:
		return Failed, "нет финального ответа"
	}
}

type sipLeg struct {
	id     string
	sess   *sipgo.DialogClientSession
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	answered bool
	hungUp   bool
	once     sync.Once
}

func (l *sipLeg) Events() <-chan Event {
	return l.events
}

func (l *sipLeg) send(kind EventKind, reason string) {
	select {
	case l.events <- Event{Kind: kind, LegID: l.id, Reason: reason, At: time.Now()}:
	case <-l.done:
	}
}

func (l *sipLeg) run(ctx context.Context) {
	defer close(l.events)

	lastCode := 0
	ringing := false
	err := l.sess.WaitAnswer(ctx, sipgo.AnswerOptions{
		OnResponse: func(res *sip.Response) error {
			lastCode = int(res.StatusCode)
			if (lastCode == 180 || lastCode == 183) && !ringing {
				ringing = true
				l.send(Ringing, "")
			}
			return nil
		},
	})
	if err != nil {
		if ctx.Err() != nil || l.isHungUp() {
			return
		}
		kind, reason := classifyStatus(lastCode)
		if lastCode == 0 {
			reason = err.Error()
		}
		l.logger.Info("вызов не принят", slog.Int("status", lastCode), slog.String("event", kind.String()))
		l.send(kind, reason)
		return
	}

	if res := l.sess.InviteResponse; res != nil {
		if codec, err := answerCodec(res.Body()); err == nil {
			l.logger.Debug("согласован кодек", slog.String("codec", codec.String()))
		} else {
			l.logger.Warn("не удалось определить кодек", slog.Any("error", err))
		}
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hangupTimeout)
	defer cancel()
	if err := l.sess.Ack(actx); err != nil {
		l.send(Failed, fmt.Sprintf("ack: %v", err))
		return
	}

	l.mu.Lock()
	if l.hungUp {
		// Hangup пришёл между 200 OK и ACK
		l.mu.Unlock()
		if err := l.sess.Bye(actx); err != nil {
			l.logger.Warn("ошибка BYE", slog.Any("error", err))
		}
		return
	}
	l.answered = true
	l.mu.Unlock()

	l.send(Answered, "")

	select {
	case <-l.sess.Context().Done():
		if !l.isHungUp() {
			l.send(Ended, "remote hangup")
		}
	case <-l.done:
	}
}

func (l *sipLeg) isHungUp() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hungUp
}

// Hangup до ответа отменяет INVITE (CANCEL), после ответа отправляет BYE
func (l *sipLeg) Hangup(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.hungUp = true
		answered := l.answered
		l.mu.Unlock()
		close(l.done)

		if answered {
			err = l.sess.Bye(ctx)
		}
		l.cancel()
		l.sess.Close()
	})
	return err
}
