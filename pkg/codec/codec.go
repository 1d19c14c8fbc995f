// Package codec определяет кодек-коллаборатор движка отправителя:
// ресемплинг, генерацию FEC избыточности и закрытое пространство констант.
//
// Пакет не содержит тяжелой численной математики — она принадлежит
// конкретной реализации Codec. Движок отправителя работает только через
// интерфейс и через значения констант, разрешенные один раз на процесс.
package codec

import (
	"fmt"
	"sync"
)

// FecCode определяет код упреждающей коррекции ошибок (FEC).
// Нулевое значение означает "не задано" и заполняется значением
// по умолчанию при валидации конфигурации.
type FecCode int

const (
	// FecDisable отключает FEC. Совместим только с базовым RTP протоколом.
	FecDisable FecCode = iota + 1

	// FecDefault выбирает код по умолчанию. Разрешается в FecRS8M
	// на этапе валидации конфигурации.
	FecDefault

	// FecRS8M - код Рида-Соломона (RFC 6865) с m=8.
	// Подходит для небольших блоков (до 256 пакетов).
	FecRS8M

	// FecLDPCStaircase - код LDPC-Staircase (RFC 6816).
	// Подходит для больших блоков (свыше 1024 пакетов).
	FecLDPCStaircase
)

func (c FecCode) String() string {
	switch c {
	case FecDisable:
		return "disable"
	case FecDefault:
		return "default"
	case FecRS8M:
		return "rs8m"
	case FecLDPCStaircase:
		return "ldpc_staircase"
	default:
		return "unspecified"
	}
}

// ChannelSet определяет набор каналов в кадре или пакете.
// Нулевое значение означает "не задано".
type ChannelSet int

const (
	ChannelSetMono ChannelSet = iota + 1
	ChannelSetStereo
)

// Count возвращает количество каналов в наборе
func (cs ChannelSet) Count() int {
	switch cs {
	case ChannelSetMono:
		return 1
	case ChannelSetStereo:
		return 2
	default:
		return 0
	}
}

func (cs ChannelSet) String() string {
	switch cs {
	case ChannelSetMono:
		return "mono"
	case ChannelSetStereo:
		return "stereo"
	default:
		return "unspecified"
	}
}

// FrameEncoding определяет кодирование семплов в кадрах, передаваемых отправителю.
type FrameEncoding int

const (
	// FrameEncodingPCMFloat - семплы float32 в диапазоне [-1.0; 1.0]
	FrameEncodingPCMFloat FrameEncoding = iota + 1
)

func (e FrameEncoding) String() string {
	switch e {
	case FrameEncodingPCMFloat:
		return "pcm_float"
	default:
		return "unspecified"
	}
}

// PacketEncoding определяет кодирование семплов в пакетах, формируемых отправителем.
type PacketEncoding int

const (
	// PacketEncodingPCMInt16 - знаковые 16-битные семплы в сетевом порядке байт
	PacketEncodingPCMInt16 PacketEncoding = iota + 1

	// PacketEncodingPCMFloat - семплы float32 в сетевом порядке байт
	PacketEncodingPCMFloat
)

func (e PacketEncoding) String() string {
	switch e {
	case PacketEncodingPCMInt16:
		return "pcm_int16"
	case PacketEncodingPCMFloat:
		return "pcm_float"
	default:
		return "unspecified"
	}
}

// ResamplerProfile определяет компромисс ресемплера между качеством и CPU.
type ResamplerProfile int

const (
	// ResamplerDisable полностью отключает ресемплинг. Частоты кадров
	// и пакетов в этом случае обязаны совпадать.
	ResamplerDisable ResamplerProfile = iota + 1
	ResamplerLow
	ResamplerMedium
	ResamplerHigh
)

func (p ResamplerProfile) String() string {
	switch p {
	case ResamplerDisable:
		return "disable"
	case ResamplerLow:
		return "low"
	case ResamplerMedium:
		return "medium"
	case ResamplerHigh:
		return "high"
	default:
		return "unspecified"
	}
}

// ConstantSpace содержит численные значения FEC кодов, которые сообщает
// реализация кодека. Значения используются на проводе и в конфигурации
// приемной стороны, поэтому разрешаются у кодека, а не задаются движком.
type ConstantSpace struct {
	FecDisable       int
	FecDefault       int
	FecRS8M          int
	FecLDPCStaircase int
}

// Codec - внешний коллаборатор движка отправителя.
// Обе операции синхронные и чистые с точки зрения вызывающего:
// не удерживают ссылок на входные буферы после возврата.
type Codec interface {
	// Constants возвращает пространство констант кодека.
	// Вызывается один раз на процесс при первом открытии отправителя.
	Constants() (ConstantSpace, error)

	// Resample преобразует кадр из частоты fromRate в частоту toRate.
	// При fromRate == toRate возвращает копию кадра без преобразования.
	Resample(frame Frame, fromRate, toRate uint32, profile ResamplerProfile) (Frame, error)

	// FECEncode генерирует nRepair восстановительных блоков для блока
	// из nSource исходных юнитов. Все юниты обязаны иметь равную длину.
	FECEncode(source [][]byte, code FecCode, nSource, nRepair int) ([][]byte, error)
}

// Разрешение констант выполняется строго один раз на процесс.
// Повторные вызовы Resolve возвращают результат первой попытки,
// включая ошибку: неудачная инициализация не повторяется.
var (
	resolveOnce sync.Once
	resolved    ConstantSpace
	resolveErr  error
)

// Resolve разрешает пространство констант кодека. Первый вызов фиксирует
// результат на весь процесс; последующие вызовы его не меняют.
func Resolve(c Codec) (ConstantSpace, error) {
	resolveOnce.Do(func() {
		if c == nil {
			resolveErr = fmt.Errorf("кодек не задан")
			return
		}
		resolved, resolveErr = c.Constants()
	})
	return resolved, resolveErr
}
