package media

// G.711 (ITU-T) μ-law и A-law. Один байт на сэмпл, 8 кГц.

const (
	ulawBias = 0x84
	ulawClip = 32635
)

var alawSegEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// LinearToUlaw кодирует один сэмпл в μ-law
func LinearToUlaw(sample int16) byte {
	v := int(sample)
	sign := 0
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias

	exp := 7
	for mask := 0x4000; v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (v >> (exp + 3)) & 0x0F
	return ^byte(sign | exp<<4 | mant)
}

// UlawToLinear декодирует один μ-law сэмпл
func UlawToLinear(u byte) int16 {
	u = ^u
	exp := int(u>>4) & 0x07
	mant := int(u & 0x0F)
	t := ((mant << 3) + ulawBias) << exp
	if u&0x80 != 0 {
		return int16(ulawBias - t)
	}
	return int16(t - ulawBias)
}

// LinearToAlaw кодирует один сэмпл в A-law
func LinearToAlaw(sample int16) byte {
	v := int(sample) >> 3
	mask := 0xD5
	if v < 0 {
		mask = 0x55
		v = -v - 1
	}

	seg := 0
	for seg < len(alawSegEnd) && v > alawSegEnd[seg] {
		seg++
	}
	if seg >= len(alawSegEnd) {
		return byte(0x7F ^ mask)
	}

	aval := seg << 4
	if seg < 2 {
		aval |= (v >> 1) & 0x0F
	} else {
		aval |= (v >> seg) & 0x0F
	}
	return byte(aval ^ mask)
}

// AlawToLinear декодирует один A-law сэмпл
func AlawToLinear(a byte) int16 {
	a ^= 0x55
	t := int(a&0x0F) << 4
	seg := int(a&0x70) >> 4
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= seg - 1
	}
	if a&0x80 != 0 {
		return int16(t)
	}
	return int16(-t)
}

// Encode кодирует кадр кодеком pt
func Encode(pt PayloadType, frame Frame) ([]byte, error) {
	var enc func(int16) byte
	switch pt {
	case PayloadTypePCMU:
		enc = LinearToUlaw
	case PayloadTypePCMA:
		enc = LinearToAlaw
	default:
		return nil, newCodecError(pt)
	}
	out := make([]byte, len(frame))
	for i, s := range frame {
		out[i] = enc(s)
	}
	return out, nil
}

// Decode декодирует payload кодека pt в кадр
func Decode(pt PayloadType, payload []byte) (Frame, error) {
	var dec func(byte) int16
	switch pt {
	case PayloadTypePCMU:
		dec = UlawToLinear
	case PayloadTypePCMA:
		dec = AlawToLinear
	default:
		return nil, newCodecError(pt)
	}
	out := make(Frame, len(payload))
	for i, b := range payload {
		out[i] = dec(b)
	}
	return out, nil
}
