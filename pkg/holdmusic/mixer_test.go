package holdmusic

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeWAV пишет PCM16 WAV во временный файл и возвращает путь
func writeWAV(t *testing.T, rate, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hold.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func ramp(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i + 1) * 10
	}
	return out
}

func TestLoadRejectsBadAssets(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{
			name: "файл отсутствует",
			path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.wav") },
		},
		{
			name: "не WAV",
			path: func(t *testing.T) string {
				p := filepath.Join(t.TempDir(), "junk.wav")
				require.NoError(t, os.WriteFile(p, []byte("definitely not a riff file"), 0o600))
				return p
			},
		},
		{
			name: "стерео",
			path: func(t *testing.T) string { return writeWAV(t, 8000, 2, ramp(320)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Load(Config{Path: tt.path(t)})
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrBadAudioAsset)
		})
	}
}

func TestNewRejectsGarbageReader(t *testing.T) {
	_, err := New(bytes.NewReader(nil), Config{})
	assert.ErrorIs(t, err, ErrBadAudioAsset)
}

func TestMixOnlyWhileHolding(t *testing.T) {
	constant := make([]int, 400)
	for i := range constant {
		constant[i] = 1000
	}
	m, err := Load(Config{Path: writeWAV(t, 8000, 1, constant), SampleRate: 8000})
	require.NoError(t, err)

	frame := make([]int16, 160)
	assert.False(t, m.Mix(frame), "без удержания кадр не меняется")
	assert.Equal(t, int16(0), frame[0])

	m.StartHold()
	assert.True(t, m.Mix(frame))
	for _, s := range frame {
		require.Equal(t, int16(500), s, "громкость по умолчанию 0.5")
	}

	m.StopHold()
	frame = make([]int16, 160)
	assert.False(t, m.Mix(frame))
	assert.Equal(t, make([]int16, 160), frame)
}

func TestHoldIdempotent(t *testing.T) {
	m, err := Load(Config{Path: writeWAV(t, 8000, 1, ramp(400)), Volume: 1})
	require.NoError(t, err)

	m.StopHold()
	assert.False(t, m.Holding(), "StopHold без удержания ничего не делает")

	m.StartHold()
	m.StartHold()
	assert.True(t, m.Holding())

	frame := make([]int16, 4)
	m.Mix(frame)
	assert.Equal(t, []int16{10, 20, 30, 40}, frame)

	// повторный StartHold во время удержания не сбрасывает позицию
	m.StartHold()
	frame = make([]int16, 2)
	m.Mix(frame)
	assert.Equal(t, []int16{50, 60}, frame)

	m.StopHold()
	m.StopHold()
	assert.False(t, m.Holding())
}

func TestLoopRestartsOnNewHold(t *testing.T) {
	m, err := Load(Config{Path: writeWAV(t, 8000, 1, ramp(3)), Volume: 1})
	require.NoError(t, err)
	require.Equal(t, 3, m.Len())

	m.StartHold()
	frame := make([]int16, 5)
	m.Mix(frame)
	assert.Equal(t, []int16{10, 20, 30, 10, 20}, frame, "петля зацикливается")

	m.StopHold()
	m.StartHold()
	frame = make([]int16, 2)
	m.Mix(frame)
	assert.Equal(t, []int16{10, 20}, frame, "новое удержание начинает с начала")
}

func TestMixClipsAndResamples(t *testing.T) {
	loud := make([]int, 1600)
	for i := range loud {
		loud[i] = 30000
	}
	m, err := Load(Config{Path: writeWAV(t, 16000, 1, loud), SampleRate: 8000, Volume: 1})
	require.NoError(t, err)
	assert.Equal(t, 800, m.Len(), "16 кГц приводится к 8 кГц")
	assert.Equal(t, 8000, m.SampleRate())

	m.StartHold()
	frame := []int16{10000, -10000}
	m.Mix(frame)
	assert.Equal(t, int16(32767), frame[0])
	assert.Equal(t, int16(20000), frame[1])
}

func TestResample(t *testing.T) {
	out := resample([]int16{0, 100, 200, 300}, 8000, 16000)
	require.Len(t, out, 8)
	assert.Equal(t, int16(50), out[1])
	assert.Equal(t, int16(300), out[7])

	assert.Nil(t, resample(nil, 8000, 16000))
}
