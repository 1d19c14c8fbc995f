package sender

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/stream_sender/pkg/codec"
)

// testPipelineConfig собирает конфигурацию для тестов конвейера:
// моно 8000 Гц, пакеты по 10мс (80 семплов на юнит)
func testPipelineConfig(t *testing.T, opts ...func(*ConfigBuilder)) Config {
	t.Helper()

	builder := NewConfigBuilder(8000, codec.ChannelSetMono, codec.FrameEncodingPCMFloat).
		PacketLength(10 * time.Millisecond).
		FecCode(codec.FecDisable)
	for _, opt := range opts {
		opt(builder)
	}

	cfg, err := builder.Build()
	require.NoError(t, err)
	return cfg
}

func testPipeline(t *testing.T, cfg Config) *pipeline {
	t.Helper()

	pipe, err := newPipeline(cfg, codec.NewReferenceCodec(), "test-session")
	require.NoError(t, err)
	return pipe
}

// pushFrame кодирует кадр, собирая батч принятым emit'ом
func pushFrame(t *testing.T, pipe *pipeline, frame codec.Frame) []outPacket {
	t.Helper()

	var batch []outPacket
	require.NoError(t, pipe.push(frame, func(b []outPacket) error {
		batch = b
		return nil
	}))
	return batch
}

func monoFrame(n int) codec.Frame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(i%100) / 100
	}
	return codec.Frame{
		Samples:  samples,
		Channels: codec.ChannelSetMono,
		Encoding: codec.FrameEncodingPCMFloat,
	}
}

func TestPipelinePacketization(t *testing.T) {
	pipe := testPipeline(t, testPipelineConfig(t))

	// 160 семплов при юните в 80 семплов дают ровно два пакета
	batch := pushFrame(t, pipe, monoFrame(160))
	require.Len(t, batch, 2)

	var prev rtp.Packet
	for i, pkt := range batch {
		assert.Equal(t, PortAudioSource, pkt.port)

		var parsed rtp.Packet
		require.NoError(t, parsed.Unmarshal(pkt.payload))

		assert.Equal(t, uint8(2), parsed.Version)
		assert.Equal(t, uint8(sourcePayloadType), parsed.PayloadType)
		// PCM int16: 80 семплов по 2 байта
		assert.Len(t, parsed.Payload, 160)

		if i > 0 {
			assert.Equal(t, prev.SequenceNumber+1, parsed.SequenceNumber)
			assert.Equal(t, prev.Timestamp+80, parsed.Timestamp)
			assert.Equal(t, prev.SSRC, parsed.SSRC)
		}
		prev = parsed
	}
}

func TestPipelineBuffersPartialUnit(t *testing.T) {
	pipe := testPipeline(t, testPipelineConfig(t))

	// 100 семплов: один полный юнит, 20 семплов остаются в накопителе
	batch := pushFrame(t, pipe, monoFrame(100))
	assert.Len(t, batch, 1)
	assert.Len(t, pipe.pending, 20)

	// Еще 60 семплов дополняют накопленный остаток до полного юнита
	batch = pushFrame(t, pipe, monoFrame(60))
	assert.Len(t, batch, 1)
	assert.Empty(t, pipe.pending)
}

func TestPipelineSubUnitFrames(t *testing.T) {
	pipe := testPipeline(t, testPipelineConfig(t))

	// Кадры меньше юнита накапливаются без выдачи пакетов
	for i := 0; i < 7; i++ {
		assert.Empty(t, pushFrame(t, pipe, monoFrame(10)))
	}

	assert.Len(t, pushFrame(t, pipe, monoFrame(10)), 1)
}

func TestPipelineFecBlock(t *testing.T) {
	cfg := testPipelineConfig(t, func(b *ConfigBuilder) {
		b.FecCode(codec.FecRS8M).
			FecBlockSourcePackets(2).
			FecBlockRepairPackets(1)
	})
	pipe := testPipeline(t, cfg)

	// Два юнита завершают FEC блок: два source пакета и один repair
	batch := pushFrame(t, pipe, monoFrame(160))
	require.Len(t, batch, 3)

	assert.Equal(t, PortAudioSource, batch[0].port)
	assert.Equal(t, PortAudioSource, batch[1].port)
	assert.Equal(t, PortAudioRepair, batch[2].port)

	// Repair кадрирование: номер блока, индекс юнита, размеры блока
	repair := batch[2].payload
	require.Greater(t, len(repair), repairHeaderSize)
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(repair[0:4]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(repair[4:6]))
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(repair[6:8]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(repair[8:10]))

	// Restore юнит той же длины, что и source пакеты блока
	assert.Equal(t, len(batch[0].payload), len(repair)-repairHeaderSize)

	// Следующий блок получает следующий номер
	batch = pushFrame(t, pipe, monoFrame(160))
	require.Len(t, batch, 3)
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(batch[2].payload[0:4]))
}

func TestPipelineEmitFailureRollsBack(t *testing.T) {
	pipe := testPipeline(t, testPipelineConfig(t))
	frame := monoFrame(100)

	// Отказ emit откатывает конвейер к состоянию до push: повторная
	// запись того же кадра дает байт-в-байт идентичный пакет
	rejected := errors.New("очередь передачи заполнена")
	var first []outPacket
	err := pipe.push(frame, func(b []outPacket) error {
		first = b
		return rejected
	})
	require.ErrorIs(t, err, rejected)
	require.Len(t, first, 1)
	assert.Empty(t, pipe.pending)

	second := pushFrame(t, pipe, frame)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].payload, second[0].payload)
	assert.Len(t, pipe.pending, 20)
}

func TestPipelineEmitFailureKeepsOtherWritersProgress(t *testing.T) {
	pipe := testPipeline(t, testPipelineConfig(t))
	frame := monoFrame(80)

	// Первая запись принята стоком
	accepted := pushFrame(t, pipe, frame)
	require.Len(t, accepted, 1)

	// Вторая отклонена и откатана
	rejected := errors.New("очередь передачи заполнена")
	err := pipe.push(frame, func([]outPacket) error { return rejected })
	require.ErrorIs(t, err, rejected)

	// Откат не затрагивает принятую запись: следующий пакет продолжает
	// нумерацию с принятого, не переиспользуя его sequence number
	next := pushFrame(t, pipe, frame)
	require.Len(t, next, 1)

	var prev, cur rtp.Packet
	require.NoError(t, prev.Unmarshal(accepted[0].payload))
	require.NoError(t, cur.Unmarshal(next[0].payload))
	assert.Equal(t, prev.SequenceNumber+1, cur.SequenceNumber)
	assert.Equal(t, prev.Timestamp+80, cur.Timestamp)
}

func TestPipelineFloatEncoding(t *testing.T) {
	cfg := testPipelineConfig(t, func(b *ConfigBuilder) {
		b.PacketEncoding(codec.PacketEncodingPCMFloat)
	})
	pipe := testPipeline(t, cfg)

	batch := pushFrame(t, pipe, monoFrame(80))
	require.Len(t, batch, 1)

	var parsed rtp.Packet
	require.NoError(t, parsed.Unmarshal(batch[0].payload))
	// PCM float: 80 семплов по 4 байта
	assert.Len(t, parsed.Payload, 320)
}

func TestPipelineInt16Clamping(t *testing.T) {
	data, err := encodeSamples([]float32{2.0, -2.0, 0.0}, codec.PacketEncodingPCMInt16)
	require.NoError(t, err)

	// Выход за диапазон [-1; 1] ограничивается крайними значениями
	assert.Equal(t, int16(32767), int16(binary.BigEndian.Uint16(data[0:2])))
	assert.Equal(t, int16(-32767), int16(binary.BigEndian.Uint16(data[2:4])))
	assert.Equal(t, int16(0), int16(binary.BigEndian.Uint16(data[4:6])))
}

func TestPipelineRemixToMono(t *testing.T) {
	cfg, err := NewConfigBuilder(8000, codec.ChannelSetStereo, codec.FrameEncodingPCMFloat).
		PacketChannels(codec.ChannelSetMono).
		PacketLength(10 * time.Millisecond).
		FecCode(codec.FecDisable).
		Build()
	require.NoError(t, err)
	pipe := testPipeline(t, cfg)

	// 80 стерео семплов сводятся в 80 моно семплов: ровно один юнит
	frame := codec.Frame{
		Samples:  make([]float32, 160),
		Channels: codec.ChannelSetStereo,
		Encoding: codec.FrameEncodingPCMFloat,
	}
	for i := 0; i < 80; i++ {
		frame.Samples[i*2] = 0.5
		frame.Samples[i*2+1] = -0.5
	}

	batch := pushFrame(t, pipe, frame)
	require.Len(t, batch, 1)

	var parsed rtp.Packet
	require.NoError(t, parsed.Unmarshal(batch[0].payload))
	require.Len(t, parsed.Payload, 160)

	// Усреднение каналов 0.5 и -0.5 дает тишину
	for i := 0; i < 80; i++ {
		assert.Equal(t, int16(0), int16(binary.BigEndian.Uint16(parsed.Payload[i*2:])))
	}
}

func TestPipelineResample(t *testing.T) {
	cfg, err := NewConfigBuilder(16000, codec.ChannelSetMono, codec.FrameEncodingPCMFloat).
		PacketSampleRate(8000).
		PacketLength(10 * time.Millisecond).
		FecCode(codec.FecDisable).
		Build()
	require.NoError(t, err)
	pipe := testPipeline(t, cfg)

	// 160 семплов при 16000 Гц дают 80 семплов при 8000 Гц: один юнит
	assert.Len(t, pushFrame(t, pipe, monoFrame(160)), 1)
}

func TestPipelineInterleaving(t *testing.T) {
	cfg := testPipelineConfig(t, func(b *ConfigBuilder) {
		b.PacketInterleaving(true).
			FecCode(codec.FecRS8M).
			FecBlockSourcePackets(2).
			FecBlockRepairPackets(1)
	})
	pipe := testPipeline(t, cfg)

	// Перемешивание меняет порядок, но не состав батча
	batch := pushFrame(t, pipe, monoFrame(320))
	require.Len(t, batch, 6)

	source, repair := 0, 0
	for _, pkt := range batch {
		switch pkt.port {
		case PortAudioSource:
			source++
		case PortAudioRepair:
			repair++
		}
	}
	assert.Equal(t, 4, source)
	assert.Equal(t, 2, repair)
}

func TestPipelineSamplesPerUnit(t *testing.T) {
	tests := []struct {
		rate   uint32
		length time.Duration
		want   int
	}{
		{8000, 10 * time.Millisecond, 80},
		{44100, 20 * time.Millisecond, 882},
		{48000, 20 * time.Millisecond, 960},
		{8000, time.Microsecond, 1}, // юнит не бывает меньше одного семпла
	}

	for _, tt := range tests {
		cfg, err := NewConfigBuilder(tt.rate, codec.ChannelSetMono, codec.FrameEncodingPCMFloat).
			PacketLength(tt.length).
			Build()
		require.NoError(t, err)
		pipe := testPipeline(t, cfg)
		assert.Equal(t, tt.want, pipe.samplesPerUnit())
	}
}
