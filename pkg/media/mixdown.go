package media

import (
	"math"

	"github.com/arzzra/warm_transfer/pkg/gate"
)

// HoldSource источник музыки удержания (holdmusic.Mixer)
type HoldSource interface {
	Mix(frame []int16) bool
}

// Inputs кадры участников за один тик, индексируются ролью.
// nil кадр означает, что участник молчит или не подключён.
type Inputs [gate.NumRoles]Frame

// Mixer собирает кадр для получателя из кадров участников,
// пропуская только те источники, чей Gate к получателю открыт.
//
// Mixer не хранит состояния кадров и может вызываться из
// аудио потока каждого получателя; флаги читаются атомарно.
type Mixer struct {
	gates   *gate.Registry
	hold    HoldSource
	samples int
}

// NewMixer создаёт Mixer; hold может быть nil
func NewMixer(gates *gate.Registry, hold HoldSource, rate int) *Mixer {
	return &Mixer{
		gates:   gates,
		hold:    hold,
		samples: SamplesPerFrame(rate),
	}
}

// Mixdown складывает кадры источников для sink в out и возвращает его.
// Для клиента поверх подмешивается музыка удержания.
func (m *Mixer) Mixdown(sink gate.Role, in Inputs, out Frame) Frame {
	if cap(out) < m.samples {
		out = make(Frame, m.samples)
	}
	out = out[:m.samples]

	var srcs [gate.NumRoles]Frame
	n := 0
	for _, src := range gate.Roles() {
		if src == sink || in[src] == nil {
			continue
		}
		if m.gates.Party(src).Pass(sink) {
			srcs[n] = in[src]
			n++
		}
	}

	for i := range out {
		var acc int32
		for _, f := range srcs[:n] {
			if i < len(f) {
				acc += int32(f[i])
			}
		}
		out[i] = clip32(acc)
	}

	if sink == gate.Customer && m.hold != nil {
		m.hold.Mix(out)
	}
	return out
}

func clip32(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
