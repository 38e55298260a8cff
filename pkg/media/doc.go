// Package media аудио кадры вызова и их сведение через Gate.
//
// Пакет не открывает сокетов и не управляет сессиями: он работает с
// кадрами, которые поставляет медиа слой, и отдаёт RTP пакеты обратно.
//
// # Основные компоненты
//
//   - Frame - кадр моно PCM16 длительностью 20 мс
//   - Encode/Decode - G.711 μ-law (PCMU) и A-law (PCMA)
//   - Mixer - сведение кадров участников для получателя по флагам gate.Registry
//     с музыкой удержания поверх кадра клиента
//   - Packetizer - упаковка кадров в RTP пакеты (pion/rtp)
//
// # Пример
//
//	gates := gate.NewRegistry()
//	mixer := media.NewMixer(gates, hold, 8000)
//	pk := media.NewPacketizer(media.PayloadTypePCMU, ssrc, 8000)
//
//	var in media.Inputs
//	in[gate.Bot] = botFrame
//	out := mixer.Mixdown(gate.Customer, in, nil)
//	pkt, err := pk.Packetize(out)
//
// Mixdown читает флаги атомарно и может вызываться из аудио потока
// без синхронизации с координатором перевода.
package media
