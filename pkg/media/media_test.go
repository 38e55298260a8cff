package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/warm_transfer/pkg/gate"
)

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestG711KnownValues(t *testing.T) {
	assert.Equal(t, byte(0xFF), LinearToUlaw(0))
	assert.Equal(t, int16(0), UlawToLinear(0xFF))
	assert.Equal(t, byte(0xD5), LinearToAlaw(0))
	assert.Equal(t, int16(8), AlawToLinear(0xD5))
}

func TestG711RoundTrip(t *testing.T) {
	codecs := []struct {
		name string
		enc  func(int16) byte
		dec  func(byte) int16
	}{
		{"PCMU", LinearToUlaw, UlawToLinear},
		{"PCMA", LinearToAlaw, AlawToLinear},
	}
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 20000, -20000, 32767, -32768}

	for _, c := range codecs {
		t.Run(c.name, func(t *testing.T) {
			for _, s := range samples {
				got := c.dec(c.enc(s))
				tolerance := abs(int(s))/8 + 64
				assert.LessOrEqual(t, abs(int(got)-int(s)), tolerance, "сэмпл %d -> %d", s, got)
				if s > 100 {
					assert.Positive(t, got)
				}
				if s < -100 {
					assert.Negative(t, got)
				}
			}
		})
	}
}

func TestEncodeUnsupportedCodec(t *testing.T) {
	_, err := Encode(PayloadType(18), Frame{1, 2})
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrorCodeCodecUnsupported))
	assert.True(t, errors.Is(err, &MediaError{Code: ErrorCodeCodecUnsupported}))

	_, err = Decode(PayloadType(18), []byte{1})
	assert.True(t, HasErrorCode(err, ErrorCodeCodecUnsupported))
}

func TestSamplesPerFrame(t *testing.T) {
	assert.Equal(t, 160, SamplesPerFrame(8000))
	assert.Equal(t, 320, SamplesPerFrame(16000))
	assert.Len(t, NewFrame(8000), 160)
}

type fakeHold struct {
	on    bool
	value int16
}

func (h *fakeHold) Mix(frame []int16) bool {
	if !h.on {
		return false
	}
	for i := range frame {
		frame[i] += h.value
	}
	return true
}

func constFrame(v int16) Frame {
	f := NewFrame(8000)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestMixdownFollowsGates(t *testing.T) {
	reg := gate.NewRegistry()
	hold := &fakeHold{value: 7}
	m := NewMixer(reg, hold, 8000)

	in := Inputs{
		gate.Customer:   constFrame(100),
		gate.Bot:        constFrame(200),
		gate.Specialist: constFrame(300),
	}

	t.Run("исходное состояние", func(t *testing.T) {
		out := m.Mixdown(gate.Customer, in, nil)
		assert.Equal(t, int16(200), out[0], "клиент слышит только бота")
		out = m.Mixdown(gate.Specialist, in, nil)
		assert.Equal(t, int16(0), out[0], "специалист изолирован")
	})

	t.Run("удержание", func(t *testing.T) {
		reg.Unlink(gate.Customer, gate.Bot)
		hold.on = true
		out := m.Mixdown(gate.Customer, in, nil)
		assert.Equal(t, int16(7), out[0], "на удержании только музыка")
		out = m.Mixdown(gate.Bot, in, nil)
		assert.Equal(t, int16(0), out[0])
	})

	t.Run("мост", func(t *testing.T) {
		hold.on = false
		reg.Isolate(gate.Bot)
		reg.Link(gate.Customer, gate.Specialist)
		out := m.Mixdown(gate.Customer, in, nil)
		assert.Equal(t, int16(300), out[0])
		out = m.Mixdown(gate.Specialist, in, nil)
		assert.Equal(t, int16(100), out[0])
	})
}

func TestMixdownClipsAndReusesBuffer(t *testing.T) {
	reg := gate.NewRegistry()
	reg.Link(gate.Specialist, gate.Customer)
	reg.Party(gate.Bot).Open(gate.Customer)
	m := NewMixer(reg, nil, 8000)

	buf := make(Frame, 0, 160)
	out := m.Mixdown(gate.Customer, Inputs{
		gate.Bot:        constFrame(30000),
		gate.Specialist: constFrame(30000),
	}, buf)
	assert.Equal(t, int16(32767), out[0])
	assert.Len(t, out, 160)
	assert.Equal(t, &buf[:1][0], &out[0], "переданный буфер переиспользуется")
}

func TestPacketizerContinuity(t *testing.T) {
	p := NewPacketizer(PayloadTypePCMU, 0xCAFE, 8000)

	first, err := p.Packetize(NewFrame(8000))
	require.NoError(t, err)
	assert.True(t, first.Marker)
	assert.Equal(t, uint8(0), first.PayloadType)
	assert.Equal(t, uint32(0xCAFE), first.SSRC)
	assert.Len(t, first.Payload, 160)

	p.Skip()
	second, err := p.Packetize(NewFrame(8000))
	require.NoError(t, err)
	assert.False(t, second.Marker)
	assert.Equal(t, first.SequenceNumber+1, second.SequenceNumber)
	assert.Equal(t, first.Timestamp+320, second.Timestamp, "пропущенный кадр сдвигает timestamp")

	_, err = p.Packetize(Frame{1, 2, 3})
	assert.True(t, HasErrorCode(err, ErrorCodeFrameSizeInvalid))
}

func TestDepacketize(t *testing.T) {
	p := NewPacketizer(PayloadTypePCMA, 1, 8000)
	pkt, err := p.Packetize(constFrame(1000))
	require.NoError(t, err)
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	hdr, frame, err := Depacketize(raw)
	require.NoError(t, err)
	assert.Equal(t, pkt.SequenceNumber, hdr.SequenceNumber)
	require.Len(t, frame, 160)
	assert.InDelta(t, 1000, frame[0], 64)

	_, _, err = Depacketize([]byte{0x80})
	assert.True(t, HasErrorCode(err, ErrorCodePacketInvalid))
}
