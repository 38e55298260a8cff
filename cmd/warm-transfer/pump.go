package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/warm_transfer/pkg/gate"
	"github.com/arzzra/warm_transfer/pkg/media"
)

const (
	// statsInterval как часто pump пишет статистику в лог
	statsInterval = 10 * time.Second
	maxPacketSize = 1500
)

// pump каждые 20 мс собирает кадры для клиента и специалиста через
// Gate и музыку удержания и упаковывает кадр клиента в RTP.
// Голос клиента приходит RTP пакетами на rtpIn, остальные источники молчат.
type pump struct {
	mixer  *media.Mixer
	pk     *media.Packetizer
	rate   int
	conn   net.Conn
	in     net.PacketConn
	logger *slog.Logger

	mu       sync.Mutex
	customer media.Frame

	received    atomic.Int64
	invalid     atomic.Int64
	unsupported atomic.Int64
}

func newPump(mixer *media.Mixer, rate int, rtpOut, rtpIn string, logger *slog.Logger) (*pump, error) {
	p := &pump{
		mixer:  mixer,
		pk:     media.NewPacketizer(media.PayloadTypePCMU, rand.Uint32(), rate),
		rate:   rate,
		logger: logger.With(slog.String("component", "media_pump")),
	}
	if rtpOut != "" {
		conn, err := net.Dial("udp", rtpOut)
		if err != nil {
			return nil, fmt.Errorf("ошибка открытия RTP %s: %w", rtpOut, err)
		}
		p.conn = conn
	}
	if rtpIn != "" {
		in, err := net.ListenPacket("udp", rtpIn)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("ошибка приёма RTP %s: %w", rtpIn, err)
		}
		p.in = in
		p.logger.Info("приём RTP клиента", slog.String("addr", in.LocalAddr().String()))
	}
	return p, nil
}

func (p *pump) Run(ctx context.Context) {
	if p.in != nil {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.receive()
		}()
		defer wg.Wait()
		// прерывает ReadFrom, соединение закрывает Close
		defer func() { _ = p.in.SetReadDeadline(time.Now()) }()
	}

	ticker := time.NewTicker(media.Ptime)
	defer ticker.Stop()
	stats := time.NewTicker(statsInterval)
	defer stats.Stop()

	var in media.Inputs
	for _, role := range gate.Roles() {
		in[role] = media.NewFrame(p.rate)
	}
	var toCustomer, toSpecialist media.Frame
	var packets, bytes, errs int

	for {
		select {
		case <-ctx.Done():
			return
		case <-stats.C:
			p.logger.Debug("статистика медиа",
				slog.Int("packets", packets),
				slog.Int("bytes", bytes),
				slog.Int("errors", errs),
				slog.Int64("received", p.received.Load()),
				slog.Int64("invalid", p.invalid.Load()),
				slog.Int64("unsupported", p.unsupported.Load()))
		case <-ticker.C:
			in[gate.Customer] = p.takeCustomer()
			toCustomer = p.mixer.Mixdown(gate.Customer, in, toCustomer)
			toSpecialist = p.mixer.Mixdown(gate.Specialist, in, toSpecialist)

			pkt, err := p.pk.Packetize(toCustomer)
			if err != nil {
				errs++
				continue
			}
			data, err := pkt.Marshal()
			if err != nil {
				errs++
				continue
			}
			packets++
			bytes += len(data)
			if p.conn != nil {
				if _, err := p.conn.Write(data); err != nil {
					errs++
				}
			}
		}
	}
}

// receive читает RTP клиента до ошибки чтения
func (p *pump) receive() {
	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := p.in.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
				p.logger.Warn("ошибка чтения RTP", slog.Any("error", err))
			}
			return
		}
		_, frame, err := media.Depacketize(buf[:n])
		switch {
		case media.HasErrorCode(err, media.ErrorCodePacketInvalid):
			p.invalid.Add(1)
			continue
		case err != nil:
			p.unsupported.Add(1)
			continue
		}
		p.received.Add(1)
		p.mu.Lock()
		p.customer = frame
		p.mu.Unlock()
	}
}

// takeCustomer последний принятый кадр клиента; nil если новых не было
func (p *pump) takeCustomer() media.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.customer
	p.customer = nil
	return f
}

func (p *pump) Close() error {
	var errs []error
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	if p.in != nil {
		errs = append(errs, p.in.Close())
	}
	return errors.Join(errs...)
}
