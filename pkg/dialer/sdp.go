package dialer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/warm_transfer/pkg/media"
)

const dtmfPayloadType = 101

// MediaEndpoint адрес медиа слоя, который будет принимать RTP специалиста.
// Сам движок медиа не терминирует.
type MediaEndpoint struct {
	IP   string
	Port int
}

var offerCodecs = []media.PayloadType{media.PayloadTypePCMU, media.PayloadTypePCMA}

// buildOffer создаёт SDP offer: PCMU, PCMA и telephone-event, sendrecv
func buildOffer(ep MediaEndpoint) ([]byte, error) {
	if ep.IP == "" || ep.Port <= 0 {
		return nil, fmt.Errorf("не задан медиа адрес для SDP: %s:%d", ep.IP, ep.Port)
	}

	formats := make([]string, 0, len(offerCodecs)+1)
	for _, pt := range offerCodecs {
		formats = append(formats, strconv.Itoa(int(pt)))
	}
	formats = append(formats, strconv.Itoa(dtmfPayloadType))

	m := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: ep.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		Attributes: make([]sdp.Attribute, 0, len(offerCodecs)+4),
	}
	for _, pt := range offerCodecs {
		m.Attributes = append(m.Attributes, sdp.Attribute{
			Key:   "rtpmap",
			Value: fmt.Sprintf("%d %s/8000", pt, pt),
		})
	}
	m.Attributes = append(m.Attributes,
		sdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%d telephone-event/8000", dtmfPayloadType)},
		sdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d 0-15", dtmfPayloadType)},
		sdp.Attribute{Key: "ptime", Value: strconv.Itoa(int(media.Ptime / time.Millisecond))},
		sdp.Attribute{Key: "sendrecv"},
	)

	offer := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ep.IP,
		},
		SessionName: "warm-transfer",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ep.IP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{m},
	}
	return offer.Marshal()
}

// answerCodec возвращает первый поддерживаемый кодек из SDP answer
func answerCodec(body []byte) (media.PayloadType, error) {
	var answer sdp.SessionDescription
	if err := answer.Unmarshal(body); err != nil {
		return 0, fmt.Errorf("ошибка разбора SDP answer: %w", err)
	}
	for _, md := range answer.MediaDescriptions {
		if md.MediaName.Media != "audio" || md.MediaName.Port.Value == 0 {
			continue
		}
		for _, f := range md.MediaName.Formats {
			pt, err := strconv.Atoi(strings.TrimSpace(f))
			if err != nil {
				continue
			}
			for _, c := range offerCodecs {
				if int(c) == pt {
					return c, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("в SDP answer нет общего аудио кодека")
}
