// Package metrics собирает Prometheus метрики переводов вызова.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config конфигурация сборщика метрик
type Config struct {
	// Namespace префикс для Prometheus метрик
	Namespace string
	// Subsystem подсистема для Prometheus метрик
	Subsystem string
	// Registerer куда регистрировать метрики; nil означает prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Namespace: "warm_transfer",
	}
}

// Collector метрики переводов.
//
// Nil *Collector допустим: все методы тогда ничего не делают.
type Collector struct {
	transfersStarted  prometheus.Counter
	transfersActive   prometheus.Gauge
	transferOutcomes  *prometheus.CounterVec
	transferDuration  prometheus.Histogram
	dialAttempts      *prometheus.CounterVec
	targetsExhausted  prometheus.Counter
	gateFramesDropped *prometheus.CounterVec
}

// New создаёт и регистрирует метрики
func New(cfg Config) *Collector {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Collector{
		transfersStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transfers_started_total",
			Help:      "Total number of accepted transfer requests",
		}),
		transfersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transfers_active",
			Help:      "Number of transfers not yet finished",
		}),
		transferOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transfer_outcomes_total",
			Help:      "Total number of finished transfers by outcome",
		}, []string{"outcome", "reason"}),
		transferDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "transfer_duration_seconds",
			Help:      "Time from transfer request to outcome",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300}, // от 1s до 5 минут
		}),
		dialAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "dial_attempts_total",
			Help:      "Specialist dial attempts by result",
		}, []string{"result"}),
		targetsExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "targets_exhausted_total",
			Help:      "Transfers that fell back after every target failed",
		}),
		gateFramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "gate_frames_dropped_total",
			Help:      "Audio frames dropped by a closed gate",
		}, []string{"source", "sink"}),
	}
}

// TransferStarted учитывает принятый запрос перевода
func (c *Collector) TransferStarted() {
	if c == nil {
		return
	}
	c.transfersStarted.Inc()
	c.transfersActive.Inc()
}

// TransferFinished учитывает исход перевода. reason пуст для успешного моста.
func (c *Collector) TransferFinished(outcome, reason string, d time.Duration) {
	if c == nil {
		return
	}
	c.transfersActive.Dec()
	c.transferOutcomes.WithLabelValues(outcome, reason).Inc()
	c.transferDuration.Observe(d.Seconds())
}

// DialResult учитывает результат одной попытки дозвона
func (c *Collector) DialResult(result string) {
	if c == nil {
		return
	}
	c.dialAttempts.WithLabelValues(result).Inc()
}

// TargetsExhausted учитывает перевод, для которого не ответил ни один адресат
func (c *Collector) TargetsExhausted() {
	if c == nil {
		return
	}
	c.targetsExhausted.Inc()
}

// FrameDropped учитывает кадр, отброшенный закрытым Gate.
// Сигнатура совпадает с gate.DropFunc.
func (c *Collector) FrameDropped(source, sink string) {
	if c == nil {
		return
	}
	c.gateFramesDropped.WithLabelValues(source, sink).Inc()
}
