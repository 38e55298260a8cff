// Package holdmusic подмешивает зацикленную фоновую музыку в поток,
// который слышит клиент, пока он находится на удержании.
//
// Ассет декодируется один раз при создании Mixer и после этого не меняется,
// поэтому Mix не выделяет память и не ждёт координатор.
package holdmusic

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrBadAudioAsset возвращается, если ассет не читается, пуст или не моно.
var ErrBadAudioAsset = errors.New("некорректный аудио ассет удержания")

const (
	// DefaultVolume громкость музыки по умолчанию
	DefaultVolume = 0.5
	// DefaultSampleRate частота дискретизации вызова по умолчанию
	DefaultSampleRate = 8000
)

// Config параметры Mixer
type Config struct {
	// Path путь к WAV файлу (используется Load)
	Path string
	// SampleRate частота дискретизации вызова, ассет приводится к ней
	SampleRate int
	// Volume множитель громкости 0..1; 0 означает DefaultVolume
	Volume float64
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Volume <= 0 {
		c.Volume = DefaultVolume
	}
	if c.Volume > 1 {
		c.Volume = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(slog.String("component", "holdmusic"))
	}
}

// Mixer подмешивает музыку удержания в кадры клиента.
//
// StartHold/StopHold вызываются координатором, Mix вызывается аудио потоком
// один раз на кадр. Флаг удержания читается в Mix ровно один раз, поэтому
// StopHold вступает в силу на границе следующего кадра.
type Mixer struct {
	samples []int16 // неизменяемый буфер после загрузки
	volume  float64
	rate    int
	logger  *slog.Logger

	holding    atomic.Bool
	generation atomic.Uint64

	// pos и seen используются только Mix
	mu   sync.Mutex
	pos  int
	seen uint64
}

// Load открывает WAV файл cfg.Path и создаёт Mixer
func Load(cfg Config) (*Mixer, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAudioAsset, err)
	}
	defer f.Close()
	return New(f, cfg)
}

// New декодирует WAV из r и создаёт Mixer.
//
// Многоканальный ассет отклоняется: молча сводить каналы в моно не будем.
func New(r io.ReadSeeker, cfg Config) (*Mixer, error) {
	cfg.applyDefaults()

	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: не является WAV файлом", ErrBadAudioAsset)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: ошибка декодирования: %v", ErrBadAudioAsset, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("%w: отсутствует формат", ErrBadAudioAsset)
	}
	if buf.Format.NumChannels != 1 {
		return nil, fmt.Errorf("%w: ожидается моно, получено каналов: %d", ErrBadAudioAsset, buf.Format.NumChannels)
	}
	if len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: пустой ассет", ErrBadAudioAsset)
	}

	pcm, err := toInt16(buf)
	if err != nil {
		return nil, err
	}
	if buf.Format.SampleRate != cfg.SampleRate {
		pcm = resample(pcm, buf.Format.SampleRate, cfg.SampleRate)
		if len(pcm) == 0 {
			return nil, fmt.Errorf("%w: ассет слишком короткий", ErrBadAudioAsset)
		}
	}

	cfg.Logger.Debug("ассет удержания загружен",
		slog.Int("samples", len(pcm)),
		slog.Int("source_rate", buf.Format.SampleRate),
		slog.Int("rate", cfg.SampleRate))

	return &Mixer{
		samples: pcm,
		volume:  cfg.Volume,
		rate:    cfg.SampleRate,
		logger:  cfg.Logger,
	}, nil
}

// StartHold включает музыку. Каждое новое удержание начинает петлю сначала.
func (m *Mixer) StartHold() {
	if m.holding.Load() {
		return
	}
	m.generation.Add(1)
	m.holding.Store(true)
}

// StopHold выключает музыку. Без активного удержания ничего не делает.
func (m *Mixer) StopHold() {
	m.holding.Store(false)
}

// Holding сообщает, идёт ли удержание
func (m *Mixer) Holding() bool {
	return m.holding.Load()
}

// SampleRate частота, к которой приведён ассет
func (m *Mixer) SampleRate() int {
	return m.rate
}

// Len длина петли в сэмплах
func (m *Mixer) Len() int {
	return len(m.samples)
}

// Mix подмешивает следующий участок петли в frame на месте.
// Возвращает true, если музыка была подмешана.
func (m *Mixer) Mix(frame []int16) bool {
	if !m.holding.Load() {
		return false
	}
	gen := m.generation.Load()

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.seen {
		m.seen = gen
		m.pos = 0
	}
	for i := range frame {
		s := float64(frame[i]) + float64(m.samples[m.pos])*m.volume
		frame[i] = clip(s)
		m.pos++
		if m.pos == len(m.samples) {
			m.pos = 0
		}
	}
	return true
}

func clip(s float64) int16 {
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

// toInt16 приводит сэмплы к 16 битам по исходной разрядности
func toInt16(buf *audio.IntBuffer) ([]int16, error) {
	depth := buf.SourceBitDepth
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch depth {
		case 8:
			out[i] = int16((v - 128) << 8)
		case 16:
			out[i] = int16(v)
		case 24:
			out[i] = int16(v >> 8)
		case 32:
			out[i] = int16(v >> 16)
		default:
			return nil, fmt.Errorf("%w: неподдерживаемая разрядность %d", ErrBadAudioAsset, depth)
		}
	}
	return out, nil
}

// resample линейная интерполяция from -> to
func resample(in []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || len(in) == 0 {
		return nil
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	for i := range out {
		x := float64(i) * step
		j := int(x)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := x - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}
