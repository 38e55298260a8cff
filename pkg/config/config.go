// Package config собирает настройки движка перевода из .env, переменных
// окружения и файла конфигурации перевода.
//
// Движок сам окружение не читает: все параметры передаются через Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/arzzra/warm_transfer/pkg/dialer"
	"github.com/arzzra/warm_transfer/pkg/holdmusic"
	"github.com/arzzra/warm_transfer/pkg/transfer"
)

// Backend способ дозвона до специалистов
const (
	BackendSIP    = "sip"
	BackendTwilio = "twilio"
)

// Значения по умолчанию
const (
	DefaultHoldMusicPath = "hold_music.wav"
	DefaultMetricsAddr   = ":9090"
	DefaultSIPListenAddr = "0.0.0.0:5060"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// ErrUnknownTarget адресат с таким именем не настроен
var ErrUnknownTarget = errors.New("адресат не найден")

// SIPSettings параметры SIP backend
type SIPSettings struct {
	ListenAddr  string
	PublicHost  string
	ContactUser string
	TrunkHost   string
	MediaHost   string
	MediaPort   int
}

// TwilioSettings параметры Twilio backend
type TwilioSettings struct {
	AccountSID string
	AuthToken  string
	From       string
	StreamURL  string
}

// Config настройки процесса warm-transfer
type Config struct {
	// Targets адресаты по умолчанию в порядке дозвона
	Targets  []dialer.Target
	Messages transfer.Messages

	HoldMusicPath   string
	HoldMusicVolume float64
	SampleRate      int
	RingTimeout     time.Duration

	DialerBackend string
	SIP           SIPSettings
	Twilio        TwilioSettings

	MetricsAddr        string
	LogLevel           string
	LogFormat          string
	TransferConfigFile string
}

// defaultTargets адресаты по умолчанию; номера берутся из окружения
var defaultTargets = []struct {
	env    string
	target dialer.Target
}{
	{"SALES_NUMBER", dialer.Target{Name: "Sales Team", Description: "Handles new purchases, upgrades, and pricing questions"}},
	{"SUPPORT_NUMBER", dialer.Target{Name: "Support Team", Description: "Handles technical issues, bugs, and troubleshooting"}},
	{"BILLING_NUMBER", dialer.Target{Name: "Billing Team", Description: "Handles invoices, refunds, and payment issues"}},
}

// Load читает .env (если он есть) и окружение процесса.
// Ошибки разбора значений возвращаются вместе; проверку полноты выполняет Validate.
func Load(logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := godotenv.Load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("файл .env не найден, используется окружение процесса")
		} else {
			return nil, fmt.Errorf("ошибка чтения .env: %w", err)
		}
	}
	return FromEnv(os.Getenv, logger)
}

// FromEnv строит Config из функции чтения переменных
func FromEnv(getenv func(string) string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		Messages: transfer.Messages{
			Hold:       getenv("HOLD_MESSAGE"),
			Failure:    getenv("TRANSFER_FAILED_MESSAGE"),
			Connecting: getenv("CONNECTING_MESSAGE"),
		}.WithDefaults(),
		HoldMusicPath: env("HOLD_MUSIC_PATH", DefaultHoldMusicPath),
		DialerBackend: strings.ToLower(env("DIALER_BACKEND", BackendSIP)),
		SIP: SIPSettings{
			ListenAddr:  env("SIP_LISTEN_ADDR", DefaultSIPListenAddr),
			PublicHost:  env("SIP_PUBLIC_HOST", ""),
			ContactUser: env("SIP_CONTACT_USER", "transfer"),
			TrunkHost:   env("SIP_TRUNK_HOST", ""),
			MediaHost:   env("SIP_MEDIA_HOST", ""),
		},
		Twilio: TwilioSettings{
			AccountSID: env("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  env("TWILIO_AUTH_TOKEN", ""),
			From:       env("TWILIO_FROM_NUMBER", ""),
			StreamURL:  env("TWILIO_STREAM_URL", ""),
		},
		MetricsAddr:        env("METRICS_ADDR", DefaultMetricsAddr),
		LogLevel:           strings.ToLower(env("LOG_LEVEL", DefaultLogLevel)),
		LogFormat:          strings.ToLower(env("LOG_FORMAT", DefaultLogFormat)),
		TransferConfigFile: env("TRANSFER_CONFIG_FILE", ""),
	}

	var errs []error
	var err error
	if cfg.HoldMusicVolume, err = strconv.ParseFloat(env("HOLD_MUSIC_VOLUME", "0.5"), 64); err != nil {
		errs = append(errs, fmt.Errorf("HOLD_MUSIC_VOLUME: %w", err))
	}
	if cfg.SampleRate, err = strconv.Atoi(env("SAMPLE_RATE", strconv.Itoa(holdmusic.DefaultSampleRate))); err != nil {
		errs = append(errs, fmt.Errorf("SAMPLE_RATE: %w", err))
	}
	if cfg.RingTimeout, err = time.ParseDuration(env("RING_TIMEOUT", dialer.DefaultRingTimeout.String())); err != nil {
		errs = append(errs, fmt.Errorf("RING_TIMEOUT: %w", err))
	}
	if cfg.SIP.MediaPort, err = strconv.Atoi(env("SIP_MEDIA_PORT", "0")); err != nil {
		errs = append(errs, fmt.Errorf("SIP_MEDIA_PORT: %w", err))
	}

	var dropped []string
	for _, d := range defaultTargets {
		number := strings.TrimSpace(getenv(d.env))
		if number == "" {
			dropped = append(dropped, d.target.Name)
			continue
		}
		t := d.target
		t.Address = number
		cfg.Targets = append(cfg.Targets, t)
	}
	if len(dropped) > 0 {
		logger.Debug("адресаты без номера пропущены", slog.String("targets", strings.Join(dropped, ", ")))
	}

	if cfg.TransferConfigFile != "" {
		f, err := LoadTransferFile(cfg.TransferConfigFile)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.ApplyTransfer(f)
			logger.Info("применён файл конфигурации перевода",
				slog.String("path", cfg.TransferConfigFile),
				slog.Int("targets", len(cfg.Targets)))
		}
	}

	if len(cfg.Targets) == 0 {
		logger.Warn("не настроен ни один адресат перевода")
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет конфигурацию и возвращает все найденные проблемы
func (c *Config) Validate() error {
	var errs []error
	if c.HoldMusicPath == "" {
		errs = append(errs, errors.New("HOLD_MUSIC_PATH не может быть пустым"))
	}
	if c.HoldMusicVolume < 0 || c.HoldMusicVolume > 1 {
		errs = append(errs, fmt.Errorf("HOLD_MUSIC_VOLUME должен быть в диапазоне 0..1, получено %v", c.HoldMusicVolume))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("SAMPLE_RATE должен быть больше 0, получено %d", c.SampleRate))
	}
	if c.RingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RING_TIMEOUT должен быть больше 0, получено %s", c.RingTimeout))
	}
	for i, t := range c.Targets {
		if err := t.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("адресат %d: %w", i, err))
		}
	}

	switch c.DialerBackend {
	case BackendSIP:
		if c.SIP.ListenAddr == "" {
			errs = append(errs, errors.New("SIP_LISTEN_ADDR не может быть пустым"))
		}
		if c.SIP.TrunkHost == "" {
			errs = append(errs, errors.New("SIP_TRUNK_HOST не может быть пустым"))
		}
		if c.SIP.MediaHost == "" {
			errs = append(errs, errors.New("SIP_MEDIA_HOST не может быть пустым"))
		}
		if c.SIP.MediaPort <= 0 || c.SIP.MediaPort > 65535 {
			errs = append(errs, fmt.Errorf("SIP_MEDIA_PORT вне диапазона: %d", c.SIP.MediaPort))
		}
	case BackendTwilio:
		if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_ACCOUNT_SID и TWILIO_AUTH_TOKEN обязательны"))
		}
		if c.Twilio.From == "" {
			errs = append(errs, errors.New("TWILIO_FROM_NUMBER не может быть пустым"))
		}
		if c.Twilio.StreamURL == "" {
			errs = append(errs, errors.New("TWILIO_STREAM_URL не может быть пустым"))
		}
	default:
		errs = append(errs, fmt.Errorf("неизвестный DIALER_BACKEND %q", c.DialerBackend))
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("неизвестный LOG_FORMAT %q", c.LogFormat))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel переводит LOG_LEVEL в уровень slog
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("неизвестный LOG_LEVEL %q", s)
	}
	return level, nil
}

// HoldMusic параметры загрузки музыки удержания
func (c *Config) HoldMusic(logger *slog.Logger) holdmusic.Config {
	return holdmusic.Config{
		Path:       c.HoldMusicPath,
		SampleRate: c.SampleRate,
		Volume:     c.HoldMusicVolume,
		Logger:     logger,
	}
}

// Lookup ищет адресата по имени без учёта регистра
func (c *Config) Lookup(name string) (dialer.Target, error) {
	want := strings.TrimSpace(name)
	for _, t := range c.Targets {
		if strings.EqualFold(t.Name, want) {
			return t, nil
		}
	}
	return dialer.Target{}, fmt.Errorf("%w: %q, доступны: %s", ErrUnknownTarget, name, c.targetNames())
}

func (c *Config) targetNames() string {
	names := make([]string, 0, len(c.Targets))
	for _, t := range c.Targets {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

// RequestFor строит запрос перевода: выбранный адресат первым,
// остальные адресаты по умолчанию следом в исходном порядке.
func (c *Config) RequestFor(name, brief string) (transfer.Request, error) {
	first, err := c.Lookup(name)
	if err != nil {
		return transfer.Request{}, err
	}
	targets := []dialer.Target{first}
	for _, t := range c.Targets {
		if !strings.EqualFold(t.Name, first.Name) {
			targets = append(targets, t)
		}
	}
	return transfer.Request{
		Targets:  targets,
		Messages: c.Messages,
		Brief:    brief,
	}, nil
}
