package codec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Численные значения констант эталонного кодека. Совпадают со значениями
// пространства констант roc-toolkit, чтобы пакеты были совместимы с
// приемниками, собранными против нативной библиотеки.
const (
	refFecDefault       = 0
	refFecDisable       = -1
	refFecRS8M          = 1
	refFecLDPCStaircase = 2
)

// referenceCodec - эталонная реализация Codec.
//
// Ресемплер линейный: достаточен для непрерывности потока, но не претендует
// на качество production ресемплера. FEC для RS8M реализован поверх
// кодов Рида-Соломона (klauspost/reedsolomon). LDPC-Staircase присутствует
// в пространстве констант, но эталонной реализацией не поддерживается.
type referenceCodec struct{}

// NewReferenceCodec создает эталонный кодек-коллаборатор
func NewReferenceCodec() Codec {
	return &referenceCodec{}
}

func (c *referenceCodec) Constants() (ConstantSpace, error) {
	return ConstantSpace{
		FecDisable:       refFecDisable,
		FecDefault:       refFecDefault,
		FecRS8M:          refFecRS8M,
		FecLDPCStaircase: refFecLDPCStaircase,
	}, nil
}

// Resample выполняет линейную интерполяцию чередующихся семплов.
// Профиль влияет только на выбор реализации у полноценных кодеков;
// эталонный кодек различает лишь ResamplerDisable.
func (c *referenceCodec) Resample(frame Frame, fromRate, toRate uint32, profile ResamplerProfile) (Frame, error) {
	if err := frame.Validate(); err != nil {
		return Frame{}, fmt.Errorf("невалидный кадр: %w", err)
	}
	if fromRate == 0 || toRate == 0 {
		return Frame{}, fmt.Errorf("частота дискретизации не может быть нулевой: %d -> %d", fromRate, toRate)
	}
	if fromRate == toRate {
		return frame.Clone(), nil
	}
	if profile == ResamplerDisable {
		return Frame{}, fmt.Errorf("ресемплер отключен, но частоты различаются: %d != %d", fromRate, toRate)
	}

	channels := frame.Channels.Count()
	inLen := frame.SamplesPerChannel()
	outLen := int(uint64(inLen) * uint64(toRate) / uint64(fromRate))
	if outLen == 0 {
		outLen = 1
	}

	out := make([]float32, outLen*channels)
	for i := 0; i < outLen; i++ {
		// Позиция выходного семпла во входном потоке
		pos := float64(i) * float64(fromRate) / float64(toRate)
		left := int(pos)
		right := left + 1
		if right >= inLen {
			right = inLen - 1
		}
		frac := float32(pos - float64(left))

		for ch := 0; ch < channels; ch++ {
			a := frame.Samples[left*channels+ch]
			b := frame.Samples[right*channels+ch]
			out[i*channels+ch] = a + (b-a)*frac
		}
	}

	return Frame{Samples: out, Channels: frame.Channels, Encoding: frame.Encoding}, nil
}

// FECEncode генерирует восстановительные юниты для блока исходных юнитов.
// Для RS8M блок кодируется кодом Рида-Соломона: data-шардами служат
// исходные юниты, parity-шарды становятся repair юнитами.
func (c *referenceCodec) FECEncode(source [][]byte, code FecCode, nSource, nRepair int) ([][]byte, error) {
	switch code {
	case FecRS8M:
	case FecLDPCStaircase:
		return nil, fmt.Errorf("ldpc_staircase не поддерживается эталонным кодеком")
	default:
		return nil, fmt.Errorf("FEC код %s не подходит для кодирования", code)
	}

	if nSource <= 0 || nRepair <= 0 {
		return nil, fmt.Errorf("невалидные размеры FEC блока: source=%d repair=%d", nSource, nRepair)
	}
	if len(source) != nSource {
		return nil, fmt.Errorf("ожидалось %d исходных юнитов, получено %d", nSource, len(source))
	}

	unitLen := len(source[0])
	for i, u := range source {
		if len(u) != unitLen {
			return nil, fmt.Errorf("юнит %d имеет длину %d, ожидалось %d", i, len(u), unitLen)
		}
	}
	if unitLen == 0 {
		return nil, fmt.Errorf("исходные юниты пусты")
	}

	enc, err := reedsolomon.New(nSource, nRepair)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания RS кодера: %w", err)
	}

	// Шарды: исходные данные + место под parity
	shards := make([][]byte, nSource+nRepair)
	for i, u := range source {
		shard := make([]byte, unitLen)
		copy(shard, u)
		shards[i] = shard
	}
	for i := nSource; i < nSource+nRepair; i++ {
		shards[i] = make([]byte, unitLen)
	}

	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("ошибка RS кодирования: %w", err)
	}

	return shards[nSource:], nil
}
