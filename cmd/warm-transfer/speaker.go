package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/arzzra/warm_transfer/pkg/gate"
)

// wordDuration примерная длительность одного слова синтезированной речи
const wordDuration = 350 * time.Millisecond

// logSpeaker пишет фразы в лог и ждёт, сколько заняло бы их произнесение.
// Заменяет TTS в режиме -smoke и при работе без разговорного слоя.
type logSpeaker struct {
	logger *slog.Logger
}

func newLogSpeaker(logger *slog.Logger) *logSpeaker {
	return &logSpeaker{logger: logger.With(slog.String("component", "log_speaker"))}
}

func (s *logSpeaker) Speak(ctx context.Context, to gate.Role, text string) error {
	d := time.Duration(len(strings.Fields(text))) * wordDuration
	s.logger.Info("фраза", slog.String("to", to.String()), slog.Duration("duration", d), slog.String("text", text))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		s.logger.Debug("фраза прервана", slog.String("to", to.String()))
		return ctx.Err()
	}
}
