package media

import (
	"fmt"
	"time"
)

// Ptime длительность одного аудио кадра
const Ptime = 20 * time.Millisecond

// PayloadType RTP payload type аудио кодека
type PayloadType uint8

const (
	PayloadTypePCMU PayloadType = 0
	PayloadTypePCMA PayloadType = 8
)

func (pt PayloadType) String() string {
	switch pt {
	case PayloadTypePCMU:
		return "PCMU"
	case PayloadTypePCMA:
		return "PCMA"
	default:
		return fmt.Sprintf("PT(%d)", uint8(pt))
	}
}

// Frame один кадр моно PCM16 длительностью Ptime.
// nil кадр означает тишину.
type Frame []int16

// SamplesPerFrame количество сэмплов в кадре для частоты rate
func SamplesPerFrame(rate int) int {
	return int(int64(rate) * int64(Ptime) / int64(time.Second))
}

// NewFrame создаёт кадр тишины для частоты rate
func NewFrame(rate int) Frame {
	return make(Frame, SamplesPerFrame(rate))
}
