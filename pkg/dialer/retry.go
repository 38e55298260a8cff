package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryConfig конфигурация повторов размещения вызова
type RetryConfig struct {
	MaxAttempts  int           // Максимальное количество попыток
	InitialDelay time.Duration // Начальная задержка
	MaxDelay     time.Duration // Максимальная задержка
	Multiplier   float64       // Множитель для экспоненциального отката
	JitterFactor float64       // Фактор случайности (0.0 - 1.0)
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// withRetry выполняет fn, повторяя только транзиентные сетевые ошибки.
// Повтор не является новой попыткой дозвона.
func withRetry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, operation string, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("операция выполнена после повторных попыток",
					slog.String("operation", operation),
					slog.Int("attempt", attempt))
			}
			return nil
		}
		lastErr = err

		if !IsRetriableError(err) || ctx.Err() != nil {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := calculateDelay(attempt, cfg)
		logger.Warn("операция не удалась, повтор через задержку",
			slog.String("operation", operation),
			slog.Int("attempt", attempt),
			slog.Int64("delay_ms", delay.Milliseconds()),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	return fmt.Errorf("операция %s не удалась после %d попыток: %w", operation, cfg.MaxAttempts, lastErr)
}

// calculateDelay вычисляет задержку для следующей попытки
func calculateDelay(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterFactor > 0 {
		delay += delay * cfg.JitterFactor * (rand.Float64()*2 - 1) // от -jitter до +jitter
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}

// IsRetriableError проверяет, является ли ошибка транзиентной
func IsRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED,
			syscall.ECONNRESET,
			syscall.ECONNABORTED,
			syscall.EPIPE,
			syscall.ETIMEDOUT,
			syscall.EHOSTUNREACH,
			syscall.ENETUNREACH,
			syscall.EAGAIN:
			return true
		}
	}

	// Проверяем по тексту ошибки (ошибки REST клиентов не типизированы)
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"temporary",
		"connection refused",
		"connection reset",
		"broken pipe",
		"network is unreachable",
		"no route to host",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
