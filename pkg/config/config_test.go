package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/warm_transfer/pkg/dialer"
	"github.com/arzzra/warm_transfer/pkg/transfer"
)

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func validSIPEnv() map[string]string {
	return map[string]string{
		"SALES_NUMBER":    "+15550100001",
		"SUPPORT_NUMBER":  "+15550100002",
		"BILLING_NUMBER":  "+15550100003",
		"SIP_TRUNK_HOST":  "trunk.example.com",
		"SIP_PUBLIC_HOST": "203.0.113.10",
		"SIP_MEDIA_HOST":  "203.0.113.10",
		"SIP_MEDIA_PORT":  "40000",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil), slog.Default())
	require.NoError(t, err)

	assert.Empty(t, cfg.Targets, "адресаты без номеров отфильтрованы")
	assert.Equal(t, transfer.DefaultMessages(), cfg.Messages)
	assert.Equal(t, DefaultHoldMusicPath, cfg.HoldMusicPath)
	assert.Equal(t, 0.5, cfg.HoldMusicVolume)
	assert.Equal(t, 8000, cfg.SampleRate)
	assert.Equal(t, 30*time.Second, cfg.RingTimeout)
	assert.Equal(t, BackendSIP, cfg.DialerBackend)
	assert.Equal(t, DefaultSIPListenAddr, cfg.SIP.ListenAddr)
	assert.Equal(t, DefaultMetricsAddr, cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestFromEnvTargetsAndOverrides(t *testing.T) {
	env := validSIPEnv()
	delete(env, "SUPPORT_NUMBER")
	env["HOLD_MESSAGE"] = "Please hold."
	env["RING_TIMEOUT"] = "12s"
	env["HOLD_MUSIC_VOLUME"] = "0.25"
	env["SAMPLE_RATE"] = "16000"
	env["DIALER_BACKEND"] = "SIP"

	cfg, err := FromEnv(envMap(env), nil)
	require.NoError(t, err)

	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, "Sales Team", cfg.Targets[0].Name)
	assert.Equal(t, "+15550100001", cfg.Targets[0].Address)
	assert.Equal(t, "Handles new purchases, upgrades, and pricing questions", cfg.Targets[0].Description)
	assert.Equal(t, "Billing Team", cfg.Targets[1].Name)

	assert.Equal(t, "Please hold.", cfg.Messages.Hold)
	assert.Equal(t, transfer.DefaultFailureMessage, cfg.Messages.Failure)
	assert.Equal(t, 12*time.Second, cfg.RingTimeout)
	assert.Equal(t, 0.25, cfg.HoldMusicVolume)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, 40000, cfg.SIP.MediaPort)
	assert.NoError(t, cfg.Validate())

	hm := cfg.HoldMusic(nil)
	assert.Equal(t, DefaultHoldMusicPath, hm.Path)
	assert.Equal(t, 16000, hm.SampleRate)
	assert.Equal(t, 0.25, hm.Volume)
}

func TestFromEnvParseErrors(t *testing.T) {
	env := map[string]string{
		"RING_TIMEOUT":      "soon",
		"HOLD_MUSIC_VOLUME": "loud",
		"SAMPLE_RATE":       "fast",
	}
	_, err := FromEnv(envMap(env), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RING_TIMEOUT")
	assert.Contains(t, err.Error(), "HOLD_MUSIC_VOLUME")
	assert.Contains(t, err.Error(), "SAMPLE_RATE")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name:   "корректная конфигурация",
			mutate: func(*Config) {},
		},
		{
			name: "громкость вне диапазона",
			mutate: func(c *Config) {
				c.HoldMusicVolume = 1.5
			},
			wantErr: []string{"HOLD_MUSIC_VOLUME"},
		},
		{
			name: "нет SIP транка и медиа",
			mutate: func(c *Config) {
				c.SIP.TrunkHost = ""
				c.SIP.MediaPort = 0
			},
			wantErr: []string{"SIP_TRUNK_HOST", "SIP_MEDIA_PORT"},
		},
		{
			name: "twilio без ключей",
			mutate: func(c *Config) {
				c.DialerBackend = BackendTwilio
			},
			wantErr: []string{"TWILIO_ACCOUNT_SID", "TWILIO_FROM_NUMBER", "TWILIO_STREAM_URL"},
		},
		{
			name: "неизвестный backend",
			mutate: func(c *Config) {
				c.DialerBackend = "carrier-pigeon"
			},
			wantErr: []string{"DIALER_BACKEND"},
		},
		{
			name: "некорректный адресат",
			mutate: func(c *Config) {
				c.Targets[0].Address = "12345"
			},
			wantErr: []string{"адресат 0"},
		},
		{
			name: "формат и уровень логов",
			mutate: func(c *Config) {
				c.LogFormat = "xml"
				c.LogLevel = "loud"
			},
			wantErr: []string{"LOG_FORMAT", "LOG_LEVEL"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv(envMap(validSIPEnv()), nil)
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestLookupAndRequestFor(t *testing.T) {
	cfg, err := FromEnv(envMap(validSIPEnv()), nil)
	require.NoError(t, err)

	target, err := cfg.Lookup("  support team ")
	require.NoError(t, err)
	assert.Equal(t, "Support Team", target.Name)

	_, err = cfg.Lookup("Legal")
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.Contains(t, err.Error(), "Sales Team, Support Team, Billing Team")

	req, err := cfg.RequestFor("billing team", "Refund for a duplicate charge.")
	require.NoError(t, err)
	names := make([]string, 0, len(req.Targets))
	for _, tg := range req.Targets {
		names = append(names, tg.Name)
	}
	assert.Equal(t, []string{"Billing Team", "Sales Team", "Support Team"}, names)
	assert.Equal(t, "Refund for a duplicate charge.", req.Brief)
	assert.Equal(t, cfg.Messages, req.Messages)
	assert.NoError(t, req.Validate())

	_, err = cfg.RequestFor("Legal", "x")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestLoadTransferFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transfer.yaml")
	content := `transfer_targets:
  - name: Escalations
    phone_number: "+15550109999"
    extension: "42"
    description: Handles escalations
  - name: Voicemail
    phone_number: sip:voicemail@pbx.example.com
transfer_messages:
  hold_message: Hold on a moment.
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	env := validSIPEnv()
	env["TRANSFER_CONFIG_FILE"] = path
	cfg, err := FromEnv(envMap(env), nil)
	require.NoError(t, err)

	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, dialer.Target{
		Name:        "Escalations",
		Address:     "+15550109999",
		Extension:   "42",
		Description: "Handles escalations",
	}, cfg.Targets[0])
	assert.True(t, cfg.Targets[1].IsSIP())
	assert.Equal(t, "Hold on a moment.", cfg.Messages.Hold)
	assert.Equal(t, transfer.DefaultConnectingMessage, cfg.Messages.Connecting)
	assert.NoError(t, cfg.Validate())
}

func TestLoadTransferFileErrors(t *testing.T) {
	_, err := LoadTransferFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transfer_targetz: []\n"), 0o600))
	_, err = LoadTransferFile(path)
	assert.Error(t, err, "неизвестные поля отклоняются")

	env := validSIPEnv()
	env["TRANSFER_CONFIG_FILE"] = path
	_, err = FromEnv(envMap(env), nil)
	assert.Error(t, err)
}

func TestParseTransferConfig(t *testing.T) {
	body := []byte(`{
		"transfer_targets": [
			{"name": "Sales Team", "phone_number": "+15550100001", "description": "Sales"}
		],
		"transfer_messages": {"transfer_failed_message": "Nobody is available."}
	}`)
	f, err := ParseTransferConfig(body)
	require.NoError(t, err)
	require.Len(t, f.Targets, 1)
	assert.Equal(t, "+15550100001", f.Targets[0].Address)

	cfg, err := FromEnv(envMap(validSIPEnv()), nil)
	require.NoError(t, err)
	cfg.ApplyTransfer(f)
	assert.Len(t, cfg.Targets, 1)
	assert.Equal(t, "Nobody is available.", cfg.Messages.Failure)
	assert.Equal(t, transfer.DefaultHoldMessage, cfg.Messages.Hold)

	_, err = ParseTransferConfig([]byte(`{"targets": []}`))
	assert.Error(t, err)
}

func TestApplyTransferKeepsTargetsWhenEmpty(t *testing.T) {
	cfg, err := FromEnv(envMap(validSIPEnv()), nil)
	require.NoError(t, err)
	cfg.ApplyTransfer(&TransferFile{Messages: transfer.Messages{Connecting: "Bringing them in."}})
	assert.Len(t, cfg.Targets, 3)
	assert.Equal(t, "Bringing them in.", cfg.Messages.Connecting)
	cfg.ApplyTransfer(nil)
	assert.Len(t, cfg.Targets, 3)
}

func TestLoadWithoutDotEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SALES_NUMBER", "+15550100001")
	t.Setenv("SUPPORT_NUMBER", "")
	t.Setenv("BILLING_NUMBER", "")
	t.Setenv("TRANSFER_CONFIG_FILE", "")
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 1)
	assert.Equal(t, "Sales Team", cfg.Targets[0].Name)
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SUPPORT_NUMBER=+15550100002\n"), 0o600))
	// godotenv не перезаписывает уже заданные переменные
	t.Setenv("SUPPORT_NUMBER", "")
	require.NoError(t, os.Unsetenv("SUPPORT_NUMBER"))

	cfg, err := Load(nil)
	require.NoError(t, err)
	target, err := cfg.Lookup("Support Team")
	require.NoError(t, err)
	assert.Equal(t, "+15550100002", target.Address)
}
