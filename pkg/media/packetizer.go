package media

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/pion/rtp"
)

// Packetizer упаковывает кадры в RTP пакеты с непрерывными
// sequence number и timestamp.
type Packetizer struct {
	mu          sync.Mutex
	payloadType PayloadType
	ssrc        uint32
	seq         uint16
	timestamp   uint32
	samples     uint32
	started     bool
}

// NewPacketizer создаёт Packetizer. Начальные seq/timestamp случайные (RFC 3550).
func NewPacketizer(pt PayloadType, ssrc uint32, rate int) *Packetizer {
	return &Packetizer{
		payloadType: pt,
		ssrc:        ssrc,
		seq:         uint16(rand.Uint32()),
		timestamp:   rand.Uint32(),
		samples:     uint32(SamplesPerFrame(rate)),
	}
}

// SSRC возвращает идентификатор источника
func (p *Packetizer) SSRC() uint32 {
	return p.ssrc
}

// Packetize кодирует кадр и возвращает RTP пакет.
// Marker выставляется на первом пакете потока.
func (p *Packetizer) Packetize(frame Frame) (*rtp.Packet, error) {
	if uint32(len(frame)) != p.samples {
		return nil, &MediaError{
			Code:    ErrorCodeFrameSizeInvalid,
			Message: fmt.Sprintf("ожидалось %d сэмплов, получено %d", p.samples, len(frame)),
		}
	}
	payload, err := Encode(p.payloadType, frame)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         !p.started,
			PayloadType:    uint8(p.payloadType),
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	p.started = true
	p.seq++
	p.timestamp += p.samples
	return pkt, nil
}

// Skip продвигает timestamp на один кадр без отправки пакета
// (кадр отброшен закрытым Gate).
func (p *Packetizer) Skip() {
	p.mu.Lock()
	p.timestamp += p.samples
	p.mu.Unlock()
}

// Depacketize разбирает RTP пакет и декодирует его payload
func Depacketize(data []byte) (*rtp.Header, Frame, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, nil, &MediaError{Code: ErrorCodePacketInvalid, Message: "ошибка разбора RTP", Wrapped: err}
	}
	frame, err := Decode(PayloadType(pkt.PayloadType), pkt.Payload)
	if err != nil {
		return nil, nil, err
	}
	return &pkt.Header, frame, nil
}
