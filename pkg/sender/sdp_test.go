package sender

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/stream_sender/pkg/codec"
)

// findAttribute ищет значение атрибута по ключу
func findAttribute(attrs []sdp.Attribute, key string) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

func TestDescribeBeforeBind(t *testing.T) {
	snd, _ := openTestSender(t, testConfig(t))

	_, err := snd.Describe()
	assert.True(t, HasErrorCode(err, ErrorCodeNotBound))
}

func TestDescribeWithoutFec(t *testing.T) {
	snd, _ := openTestSender(t, testConfig(t))
	require.NoError(t, snd.Bind(localAddr()))
	require.NoError(t, snd.Connect(PortAudioSource, ProtocolRTP, remoteAddr(10001)))

	desc, err := snd.Describe()
	require.NoError(t, err)

	// Без FEC описание содержит одну медиа секцию source порта
	require.Len(t, desc.MediaDescriptions, 1)
	media := desc.MediaDescriptions[0]
	assert.Equal(t, "audio", media.MediaName.Media)
	assert.Equal(t, 10001, media.MediaName.Port.Value)

	fec, ok := findAttribute(desc.Attributes, "x-fec-code")
	require.True(t, ok)
	assert.Equal(t, "disable", fec)

	rate, ok := findAttribute(desc.Attributes, "x-packet-rate")
	require.True(t, ok)
	assert.Equal(t, "8000", rate)
}

func TestDescribeWithRS8M(t *testing.T) {
	cfg := testConfig(t, func(b *ConfigBuilder) { b.FecCode(codec.FecRS8M) })
	snd, _ := openTestSender(t, cfg)
	require.NoError(t, snd.Bind(localAddr()))
	require.NoError(t, snd.Connect(PortAudioSource, ProtocolRTPRS8MSource, remoteAddr(10001)))
	require.NoError(t, snd.Connect(PortAudioRepair, ProtocolRS8MRepair, remoteAddr(10002)))

	desc, err := snd.Describe()
	require.NoError(t, err)

	// Порядок секций фиксирован: source, затем repair
	require.Len(t, desc.MediaDescriptions, 2)
	assert.Equal(t, 10001, desc.MediaDescriptions[0].MediaName.Port.Value)
	assert.Equal(t, 10002, desc.MediaDescriptions[1].MediaName.Port.Value)

	source, ok := findAttribute(desc.MediaDescriptions[0].Attributes, "x-protocol")
	require.True(t, ok)
	assert.Equal(t, "rtp+rs8m_source", source)

	repair, ok := findAttribute(desc.MediaDescriptions[1].Attributes, "x-protocol")
	require.True(t, ok)
	assert.Equal(t, "rs8m_repair", repair)

	// Описание сериализуется в валидный SDP
	raw, err := desc.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(raw), "m=audio 10001")
	assert.Contains(t, string(raw), "m=audio 10002")
}

func TestDescribePartialSetup(t *testing.T) {
	cfg := testConfig(t, func(b *ConfigBuilder) { b.FecCode(codec.FecRS8M) })
	snd, _ := openTestSender(t, cfg)
	require.NoError(t, snd.Bind(localAddr()))
	require.NoError(t, snd.Connect(PortAudioSource, ProtocolRTPRS8MSource, remoteAddr(10001)))

	// Неподключенный repair порт в описание не попадает
	desc, err := snd.Describe()
	require.NoError(t, err)
	assert.Len(t, desc.MediaDescriptions, 1)
}
