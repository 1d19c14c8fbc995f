package sender

import (
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// Describe формирует SDP описание сессии отправителя: привязанный
// локальный адрес и по одной медиа секции на каждый подключенный порт.
// Описание служит для ручного согласования конфигурации с приемной
// стороной; никакого сигнального протокола движок не реализует.
//
// Возвращает ошибку NotBound до Bind и Closed после Close.
func (s *Sender) Describe() (*sdp.SessionDescription, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.State() {
	case StateClosed:
		return nil, newError(ErrorCodeClosed, s.id, "сессия закрыта")
	case StateCreated:
		return nil, newError(ErrorCodeNotBound, s.id, "отправитель не привязан")
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    addressType(s.localAddr.Host),
			UnicastAddress: s.localAddr.Host,
		},
		SessionName: "Stream Sender Session",
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			{Key: "x-fec-code", Value: s.cfg.FecCode().String()},
			{Key: "x-packet-rate", Value: strconv.FormatUint(uint64(s.cfg.PacketSampleRate()), 10)},
			{Key: "x-packet-channels", Value: s.cfg.PacketChannels().String()},
		},
	}

	// Порядок секций фиксирован: сначала source, затем repair
	for _, portType := range requiredPorts(s.cfg.FecCode()) {
		port, ok := s.ports[portType]
		if !ok {
			continue
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, s.mediaForPort(portType, port))
	}

	return desc, nil
}

// mediaForPort формирует медиа секцию для подключенного порта
func (s *Sender) mediaForPort(portType PortType, port *connectedPort) *sdp.MediaDescription {
	protos := []string{"RTP", "AVP"}
	formats := []string{strconv.Itoa(sourcePayloadType)}
	if portType == PortAudioRepair {
		protos = []string{"udp"}
		formats = []string{"fec"}
	}

	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: port.addr.Port},
			Protos:  protos,
			Formats: formats,
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(port.addr.Host),
			Address:     &sdp.Address{Address: port.addr.Host},
		},
		Attributes: []sdp.Attribute{
			{Key: "x-port-type", Value: portType.String()},
			{Key: "x-protocol", Value: port.protocol.String()},
		},
	}
}

// addressType возвращает тип адреса для SDP полей
func addressType(host string) string {
	for i := 0; i < len(host); i++ {
		if host[i] == ':' {
			return "IP6"
		}
	}
	return "IP4"
}
