package sender

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/stream_sender/pkg/codec"
)

// Динамический payload type для source пакетов (RFC 3551, диапазон 96-127)
const sourcePayloadType = 96

// Размер заголовка repair юнита: номер блока, индекс юнита,
// размеры блока (source и repair части)
const repairHeaderSize = 10

// outPacket - результат кодирования: сериализованный пакет и роль порта,
// на который он должен быть отправлен
type outPacket struct {
	port    PortType
	payload []byte
}

// pipeline оркестрирует кодирование кадра в пакеты: ресемплинг и FEC
// делегируются кодеку-коллаборатору, нарезка на юниты пакетной длительности
// и RTP пакетизация выполняются здесь.
//
// Семплы буферизуются между вызовами, пока не накопится полный пакет.
// Кодирование и постановка батча в очередь передачи выполняются под одним
// mutex'ом: конкурентные записи сериализуются, порядок батчей в стоке
// совпадает с порядком кодирования, а откат при отказе очереди отменяет
// только изменения отказавшего вызова.
type pipeline struct {
	cfg       Config
	codec     codec.Codec
	sessionID string

	mutex sync.Mutex

	ssrc      uint32
	seq       uint16
	timestamp uint32

	// Накопитель семплов пакетной частоты и канальности
	pending []float32

	// Текущий FEC блок: сериализованные source пакеты равной длины
	fecBlock   [][]byte
	fecBlockNo uint32
}

// newPipeline создает конвейер кодирования для валидированной конфигурации
func newPipeline(cfg Config, c codec.Codec, sessionID string) (*pipeline, error) {
	ssrc, err := generateSSRC()
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации SSRC: %w", err)
	}
	return &pipeline{
		cfg:       cfg,
		codec:     c,
		sessionID: sessionID,
		ssrc:      ssrc,
		seq:       uint16(mathrand.Uint32()),
		timestamp: mathrand.Uint32(),
	}, nil
}

// samplesPerUnit возвращает количество семплов на канал в одном пакете
func (p *pipeline) samplesPerUnit() int {
	n := int(uint64(p.cfg.PacketSampleRate()) * uint64(p.cfg.PacketLength()) / uint64(time.Second))
	if n == 0 {
		n = 1
	}
	return n
}

// pipelineState - снимок мутируемого состояния для отката при ошибке
// кодирования или отказе очереди передачи
type pipelineState struct {
	seq        uint16
	timestamp  uint32
	pending    []float32
	fecBlock   [][]byte
	fecBlockNo uint32
}

// push кодирует кадр в батч пакетов и передает батч в emit. Кадр полностью
// копируется в конвейер до возврата, вызывающий может немедленно
// переиспользовать буфер.
//
// emit вызывается под mutex'ом конвейера: пока он не вернул управление,
// конкурентные записи не продвигают sequence number и накопители. Если emit
// возвращает ошибку, состояние конвейера откатывается ровно к моменту до
// этого вызова и кадр может быть записан повторно.
func (p *pipeline) push(frame codec.Frame, emit func(batch []outPacket) error) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	saved := pipelineState{
		seq:        p.seq,
		timestamp:  p.timestamp,
		pending:    p.pending,
		fecBlock:   p.fecBlock,
		fecBlockNo: p.fecBlockNo,
	}
	restore := func() {
		p.seq = saved.seq
		p.timestamp = saved.timestamp
		p.pending = saved.pending
		p.fecBlock = saved.fecBlock
		p.fecBlockNo = saved.fecBlockNo
	}

	// Ресемплинг к пакетной частоте, если частоты различаются
	work := frame
	if p.cfg.FrameSampleRate() != p.cfg.PacketSampleRate() {
		var err error
		work, err = p.codec.Resample(frame,
			p.cfg.FrameSampleRate(), p.cfg.PacketSampleRate(), p.cfg.ResamplerProfile())
		if err != nil {
			return fmt.Errorf("ошибка ресемплинга: %w", err)
		}
	}

	// Приведение к пакетной канальности
	samples := remixChannels(work.Samples, work.Channels, p.cfg.PacketChannels())

	// Накопитель не разделяет буфер с кадром вызывающего
	p.pending = append(p.pending, samples...)

	unitSamples := p.samplesPerUnit() * p.cfg.PacketChannels().Count()
	fecEnabled := p.cfg.FecCode() != codec.FecDisable

	var batch []outPacket
	for len(p.pending) >= unitSamples {
		unit := p.pending[:unitSamples]
		p.pending = p.pending[unitSamples:]

		data, err := p.buildSourcePacket(unit)
		if err != nil {
			restore()
			return err
		}
		batch = append(batch, outPacket{port: PortAudioSource, payload: data})

		if !fecEnabled {
			continue
		}

		p.fecBlock = append(p.fecBlock, data)
		if len(p.fecBlock) < p.cfg.FecBlockSourcePackets() {
			continue
		}

		repair, err := p.codec.FECEncode(p.fecBlock, p.cfg.FecCode(),
			p.cfg.FecBlockSourcePackets(), p.cfg.FecBlockRepairPackets())
		if err != nil {
			restore()
			return fmt.Errorf("ошибка FEC кодирования: %w", err)
		}
		for i, r := range repair {
			batch = append(batch, outPacket{
				port:    PortAudioRepair,
				payload: p.buildRepairPacket(r, i),
			})
		}
		p.fecBlockNo++
		p.fecBlock = nil
	}

	// Перемешивание пакетов повышает устойчивость к пакетным потерям
	if p.cfg.PacketInterleaving() && len(batch) > 1 {
		mathrand.Shuffle(len(batch), func(i, j int) {
			batch[i], batch[j] = batch[j], batch[i]
		})
	}

	if err := emit(batch); err != nil {
		restore()
		return err
	}

	return nil
}

// buildSourcePacket кодирует юнит семплов в сериализованный RTP пакет
func (p *pipeline) buildSourcePacket(unit []float32) ([]byte, error) {
	payload, err := encodeSamples(unit, p.cfg.PacketEncoding())
	if err != nil {
		return nil, err
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    sourcePayloadType,
			SequenceNumber: p.seq,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}

	data, err := pkt.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга RTP пакета: %w", err)
	}

	p.seq++
	p.timestamp += uint32(p.samplesPerUnit())

	return data, nil
}

// buildRepairPacket оборачивает восстановительный юнит в repair кадрирование:
// номер FEC блока, индекс юнита в блоке и размеры блока
func (p *pipeline) buildRepairPacket(unit []byte, index int) []byte {
	data := make([]byte, repairHeaderSize+len(unit))
	binary.BigEndian.PutUint32(data[0:4], p.fecBlockNo)
	binary.BigEndian.PutUint16(data[4:6], uint16(index))
	binary.BigEndian.PutUint16(data[6:8], uint16(p.cfg.FecBlockSourcePackets()))
	binary.BigEndian.PutUint16(data[8:10], uint16(p.cfg.FecBlockRepairPackets()))
	copy(data[repairHeaderSize:], unit)
	return data
}

// encodeSamples кодирует семплы в сетевое представление пакета
func encodeSamples(samples []float32, encoding codec.PacketEncoding) ([]byte, error) {
	switch encoding {
	case codec.PacketEncodingPCMInt16:
		data := make([]byte, len(samples)*2)
		for i, s := range samples {
			if s > 1.0 {
				s = 1.0
			}
			if s < -1.0 {
				s = -1.0
			}
			binary.BigEndian.PutUint16(data[i*2:], uint16(int16(s*math.MaxInt16)))
		}
		return data, nil

	case codec.PacketEncodingPCMFloat:
		data := make([]byte, len(samples)*4)
		for i, s := range samples {
			binary.BigEndian.PutUint32(data[i*4:], math.Float32bits(s))
		}
		return data, nil

	default:
		return nil, fmt.Errorf("неизвестное кодирование пакета: %s", encoding)
	}
}

// remixChannels приводит чередующиеся семплы от одной канальности к другой.
// Стерео сводится в моно усреднением, моно разводится в стерео дублированием.
func remixChannels(samples []float32, from, to codec.ChannelSet) []float32 {
	if from == to {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	switch {
	case from == codec.ChannelSetStereo && to == codec.ChannelSetMono:
		out := make([]float32, len(samples)/2)
		for i := range out {
			out[i] = (samples[i*2] + samples[i*2+1]) / 2
		}
		return out

	case from == codec.ChannelSetMono && to == codec.ChannelSetStereo:
		out := make([]float32, len(samples)*2)
		for i, s := range samples {
			out[i*2] = s
			out[i*2+1] = s
		}
		return out

	default:
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}
}

// generateSSRC генерирует случайный SSRC согласно RFC 3550 Appendix A.6
func generateSSRC() (uint32, error) {
	var ssrc uint32
	if err := binary.Read(rand.Reader, binary.BigEndian, &ssrc); err != nil {
		return 0, err
	}
	return ssrc, nil
}
