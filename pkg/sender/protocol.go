package sender

import (
	"github.com/arzzra/stream_sender/pkg/codec"
)

// PortType определяет роль подключаемого удаленного порта
type PortType int

const (
	// PortAudioSource - порт для аудио пакетов
	PortAudioSource PortType = iota + 1

	// PortAudioRepair - порт для избыточных данных FEC
	PortAudioRepair
)

func (p PortType) String() string {
	switch p {
	case PortAudioSource:
		return "audio_source"
	case PortAudioRepair:
		return "audio_repair"
	default:
		return "unknown"
	}
}

// Protocol определяет протокол порта. Каждый протокол совместим ровно
// с одной парой (FEC код, роль порта), см. таблицу совместимости ниже.
type Protocol int

const (
	// ProtocolRTP - базовый RTP без FEC
	ProtocolRTP Protocol = iota + 1

	// ProtocolRTPRS8MSource - RTP с расширением source пакетов RS8M
	ProtocolRTPRS8MSource

	// ProtocolRS8MRepair - repair пакеты RS8M
	ProtocolRS8MRepair

	// ProtocolRTPLDPCSource - RTP с расширением source пакетов LDPC-Staircase
	ProtocolRTPLDPCSource

	// ProtocolLDPCRepair - repair пакеты LDPC-Staircase
	ProtocolLDPCRepair
)

func (p Protocol) String() string {
	switch p {
	case ProtocolRTP:
		return "rtp"
	case ProtocolRTPRS8MSource:
		return "rtp+rs8m_source"
	case ProtocolRS8MRepair:
		return "rs8m_repair"
	case ProtocolRTPLDPCSource:
		return "rtp+ldpc_source"
	case ProtocolLDPCRepair:
		return "ldpc_repair"
	default:
		return "unknown"
	}
}

// portKey - ключ таблицы совместимости
type portKey struct {
	fec  codec.FecCode
	port PortType
}

// portProtocols - статическая таблица совместимости:
// (FEC код, роль порта) -> единственный допустимый протокол.
// FecDefault в таблице отсутствует: он разрешается в RS8M при валидации
// конфигурации и до движка не доходит.
var portProtocols = map[portKey]Protocol{
	{codec.FecDisable, PortAudioSource}:       ProtocolRTP,
	{codec.FecRS8M, PortAudioSource}:          ProtocolRTPRS8MSource,
	{codec.FecRS8M, PortAudioRepair}:          ProtocolRS8MRepair,
	{codec.FecLDPCStaircase, PortAudioSource}: ProtocolRTPLDPCSource,
	{codec.FecLDPCStaircase, PortAudioRepair}: ProtocolLDPCRepair,
}

// requiredProtocol возвращает протокол, требуемый таблицей совместимости
// для пары (FEC код, роль порта). Второй результат false означает, что
// пара недопустима: например repair порт при отключенном FEC.
func requiredProtocol(fec codec.FecCode, port PortType) (Protocol, bool) {
	proto, ok := portProtocols[portKey{fec, port}]
	return proto, ok
}

// requiredPorts возвращает роли портов, которые должны быть подключены
// до первого Write при данном FEC коде
func requiredPorts(fec codec.FecCode) []PortType {
	if fec == codec.FecDisable {
		return []PortType{PortAudioSource}
	}
	return []PortType{PortAudioSource, PortAudioRepair}
}
