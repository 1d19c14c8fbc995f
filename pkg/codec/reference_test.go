package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stereoFrame(samples ...float32) Frame {
	return Frame{
		Samples:  samples,
		Channels: ChannelSetStereo,
		Encoding: FrameEncodingPCMFloat,
	}
}

func TestResampleSameRate(t *testing.T) {
	c := NewReferenceCodec()
	in := stereoFrame(0.1, 0.2, 0.3, 0.4)

	out, err := c.Resample(in, 44100, 44100, ResamplerMedium)
	require.NoError(t, err)
	assert.Equal(t, in.Samples, out.Samples)

	// Результат - копия, не разделяющая буфер с входом
	out.Samples[0] = 0.9
	assert.Equal(t, float32(0.1), in.Samples[0])
}

func TestResampleUpsample(t *testing.T) {
	c := NewReferenceCodec()
	in := Frame{
		Samples:  []float32{0.0, 1.0, 0.0, 1.0},
		Channels: ChannelSetMono,
		Encoding: FrameEncodingPCMFloat,
	}

	out, err := c.Resample(in, 8000, 16000, ResamplerMedium)
	require.NoError(t, err)

	// Удвоение частоты удваивает число семплов
	assert.Equal(t, 8, len(out.Samples))
	assert.Equal(t, ChannelSetMono, out.Channels)

	// Интерполированные значения лежат между соседними входными
	for _, v := range out.Samples {
		assert.GreaterOrEqual(t, v, float32(0.0))
		assert.LessOrEqual(t, v, float32(1.0))
	}
}

func TestResampleDownsample(t *testing.T) {
	c := NewReferenceCodec()
	in := Frame{
		Samples:  make([]float32, 441),
		Channels: ChannelSetMono,
		Encoding: FrameEncodingPCMFloat,
	}

	out, err := c.Resample(in, 44100, 8000, ResamplerLow)
	require.NoError(t, err)
	assert.Equal(t, 80, len(out.Samples))
}

func TestResampleDisabledProfile(t *testing.T) {
	c := NewReferenceCodec()
	in := stereoFrame(0.1, 0.2)

	// Совпадающие частоты допустимы даже с отключенным ресемплером
	_, err := c.Resample(in, 44100, 44100, ResamplerDisable)
	assert.NoError(t, err)

	_, err = c.Resample(in, 44100, 48000, ResamplerDisable)
	assert.Error(t, err)
}

func TestResampleInvalidInput(t *testing.T) {
	c := NewReferenceCodec()

	_, err := c.Resample(Frame{}, 44100, 48000, ResamplerMedium)
	assert.Error(t, err)

	_, err = c.Resample(stereoFrame(0.1, 0.2), 0, 48000, ResamplerMedium)
	assert.Error(t, err)
}

func TestFECEncodeRS8M(t *testing.T) {
	c := NewReferenceCodec()

	source := [][]byte{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
	}

	repair, err := c.FECEncode(source, FecRS8M, 3, 2)
	require.NoError(t, err)
	require.Len(t, repair, 2)

	for _, r := range repair {
		assert.Len(t, r, 4)
	}

	// Кодирование детерминировано для одинакового входа
	again, err := c.FECEncode(source, FecRS8M, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, repair, again)

	// Исходные юниты не изменены кодированием
	assert.Equal(t, []byte{1, 2, 3, 4}, source[0])
}

func TestFECEncodeErrors(t *testing.T) {
	c := NewReferenceCodec()
	source := [][]byte{{1, 2}, {3, 4}}

	tests := []struct {
		name    string
		source  [][]byte
		code    FecCode
		nSource int
		nRepair int
	}{
		{"ldpc не поддерживается", source, FecLDPCStaircase, 2, 1},
		{"disable не кодирует", source, FecDisable, 2, 1},
		{"неверное число юнитов", source, FecRS8M, 3, 1},
		{"нулевой repair", source, FecRS8M, 2, 0},
		{"юниты разной длины", [][]byte{{1, 2}, {3}}, FecRS8M, 2, 1},
		{"пустые юниты", [][]byte{{}, {}}, FecRS8M, 2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.FECEncode(tt.source, tt.code, tt.nSource, tt.nRepair)
			assert.Error(t, err)
		})
	}
}
