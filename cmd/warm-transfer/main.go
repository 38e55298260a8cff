// warm-transfer запускает движок тёплого перевода: дозвон до специалистов
// через SIP или Twilio, HTTP интерфейс для разговорного слоя и метрики.
//
// Режим -smoke выполняет один перевод на указанного адресата с
// разговорным слоем, который только пишет фразы в лог.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arzzra/warm_transfer/pkg/config"
	"github.com/arzzra/warm_transfer/pkg/dialer"
	"github.com/arzzra/warm_transfer/pkg/gate"
	"github.com/arzzra/warm_transfer/pkg/holdmusic"
	"github.com/arzzra/warm_transfer/pkg/media"
	"github.com/arzzra/warm_transfer/pkg/metrics"
	"github.com/arzzra/warm_transfer/pkg/ops"
	"github.com/arzzra/warm_transfer/pkg/transfer"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		smoke  = flag.String("smoke", "", "Выполнить один перевод на адресата с этим именем и выйти")
		brief  = flag.String("brief", "Smoke test transfer.", "Описание проблемы клиента для режима -smoke")
		rtpOut = flag.String("rtp-out", "", "host:port, куда отправлять RTP смеси для клиента (опционально)")
		rtpIn  = flag.String("rtp-in", "", "host:port для приёма RTP голоса клиента (опционально)")
	)
	flag.Parse()

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации логов: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("некорректная конфигурация", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *smoke, *brief, *rtpOut, *rtpIn); err != nil {
		logger.Error("остановка с ошибкой", slog.Any("error", err))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, smoke, brief, rtpOut, rtpIn string) error {
	// Музыка удержания проверяется при запуске: без неё переводы невозможны
	hold, err := holdmusic.Load(cfg.HoldMusic(logger))
	if err != nil {
		return fmt.Errorf("музыка удержания: %w", err)
	}

	collector := metrics.New(metrics.DefaultConfig())
	gates := gate.NewRegistry(gate.WithDropObserver(func(source, sink gate.Role) {
		collector.FrameDropped(source.String(), sink.String())
	}))

	backend, closeBackend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	dial := dialer.New(backend, dialer.Config{
		RingTimeout: cfg.RingTimeout,
		Logger:      logger,
	})

	outcomes := make(chan transfer.Outcome, 1)
	coord, err := transfer.New(transfer.Config{
		Dialer:  dial,
		Speaker: newLogSpeaker(logger),
		Gates:   gates,
		Hold:    hold,
		OnOutcome: func(o transfer.Outcome) {
			attrs := []any{
				slog.String("handle", string(o.Handle)),
				slog.String("outcome", o.Kind.String()),
				slog.String("reason", o.Reason),
				slog.Int("attempts", o.Attempts),
				slog.Duration("duration", o.Duration),
			}
			if o.Target != nil {
				attrs = append(attrs, slog.String("target", o.Target.Name))
			}
			logger.Info("итог перевода", attrs...)
			select {
			case outcomes <- o:
			default:
			}
		},
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer coord.Close()

	p, err := newPump(media.NewMixer(gates, hold, cfg.SampleRate), cfg.SampleRate, rtpOut, rtpIn, logger)
	if err != nil {
		return err
	}
	defer p.Close()
	go p.Run(ctx)

	server := ops.New(ops.Options{
		Coordinator: coord,
		Config:      cfg,
		Gatherer:    prometheus.DefaultGatherer,
		Logger:      logger,
	})
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(cfg.MetricsAddr) }()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			logger.Warn("ошибка остановки ops сервера", slog.Any("error", err))
		}
	}()

	if smoke != "" {
		return runSmoke(ctx, cfg, coord, outcomes, smoke, brief, logger)
	}

	logger.Info("warm-transfer запущен",
		slog.String("backend", backend.Name()),
		slog.Int("targets", len(cfg.Targets)),
		slog.String("ops_addr", cfg.MetricsAddr))
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
		return nil
	case err := <-serverErr:
		return err
	}
}

// newBackend создаёт backend дозвона и функцию его остановки
func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dialer.Backend, func(), error) {
	switch cfg.DialerBackend {
	case config.BackendTwilio:
		b, err := dialer.NewTwilioBackend(dialer.TwilioConfig{
			AccountSID:  cfg.Twilio.AccountSID,
			AuthToken:   cfg.Twilio.AuthToken,
			From:        cfg.Twilio.From,
			StreamURL:   cfg.Twilio.StreamURL,
			RingTimeout: cfg.RingTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil

	case config.BackendSIP:
		b, err := dialer.NewSIPBackend(dialer.SIPConfig{
			ListenAddr:  cfg.SIP.ListenAddr,
			PublicHost:  cfg.SIP.PublicHost,
			ContactUser: cfg.SIP.ContactUser,
			TrunkHost:   cfg.SIP.TrunkHost,
			Media:       dialer.MediaEndpoint{IP: cfg.SIP.MediaHost, Port: cfg.SIP.MediaPort},
			Logger:      logger,
		})
		if err != nil {
			return nil, nil, err
		}
		go func() {
			if err := b.Serve(ctx); err != nil && ctx.Err() == nil {
				logger.Error("SIP сервер остановлен", slog.Any("error", err))
			}
		}()
		return b, func() { _ = b.Close() }, nil
	}
	return nil, nil, fmt.Errorf("неизвестный backend %q", cfg.DialerBackend)
}

func runSmoke(ctx context.Context, cfg *config.Config, coord *transfer.Coordinator, outcomes <-chan transfer.Outcome, name, brief string, logger *slog.Logger) error {
	req, err := cfg.RequestFor(name, brief)
	if err != nil {
		return err
	}
	h, err := coord.RequestTransfer(ctx, req)
	if err != nil {
		return err
	}
	logger.Info("smoke перевод начат", slog.String("handle", string(h)), slog.String("target", req.Targets[0].Name))

	select {
	case o := <-outcomes:
		if o.Kind != transfer.Bridged {
			return fmt.Errorf("перевод не соединён: %s (%s)", o.Kind, o.Reason)
		}
		return nil
	case <-ctx.Done():
		if err := coord.CancelTransfer(h); err != nil && !errors.Is(err, transfer.ErrUnknownHandle) {
			logger.Warn("ошибка отмены перевода", slog.Any("error", err))
		}
		return ctx.Err()
	}
}
