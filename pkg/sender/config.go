package sender

import (
	"time"

	"github.com/arzzra/stream_sender/pkg/codec"
)

// Значения конфигурации по умолчанию, подставляемые при валидации
const (
	// DefaultPacketLength - длительность одного пакета по умолчанию
	DefaultPacketLength = 20 * time.Millisecond

	// DefaultFecBlockSourcePackets - исходных пакетов на FEC блок по умолчанию
	DefaultFecBlockSourcePackets = 20

	// DefaultFecBlockRepairPackets - восстановительных пакетов на FEC блок по умолчанию
	DefaultFecBlockRepairPackets = 10
)

// Config - неизменяемая валидированная конфигурация отправителя.
// Создается исключительно через ConfigBuilder; после Build() значения
// не меняются, повторная валидация не требуется. Для изменения
// конфигурации требуется новый builder.
type Config struct {
	frameSampleRate uint32
	frameChannels   codec.ChannelSet
	frameEncoding   codec.FrameEncoding

	packetSampleRate uint32
	packetChannels   codec.ChannelSet
	packetEncoding   codec.PacketEncoding
	packetLength     time.Duration

	packetInterleaving bool
	automaticTiming    bool

	resamplerProfile codec.ResamplerProfile

	fecCode               codec.FecCode
	fecBlockSourcePackets int
	fecBlockRepairPackets int
}

func (c Config) FrameSampleRate() uint32                  { return c.frameSampleRate }
func (c Config) FrameChannels() codec.ChannelSet          { return c.frameChannels }
func (c Config) FrameEncoding() codec.FrameEncoding       { return c.frameEncoding }
func (c Config) PacketSampleRate() uint32                 { return c.packetSampleRate }
func (c Config) PacketChannels() codec.ChannelSet         { return c.packetChannels }
func (c Config) PacketEncoding() codec.PacketEncoding     { return c.packetEncoding }
func (c Config) PacketLength() time.Duration              { return c.packetLength }
func (c Config) PacketInterleaving() bool                 { return c.packetInterleaving }
func (c Config) AutomaticTiming() bool                    { return c.automaticTiming }
func (c Config) ResamplerProfile() codec.ResamplerProfile { return c.resamplerProfile }
func (c Config) FecCode() codec.FecCode                   { return c.fecCode }
func (c Config) FecBlockSourcePackets() int               { return c.fecBlockSourcePackets }
func (c Config) FecBlockRepairPackets() int               { return c.fecBlockRepairPackets }

// ConfigBuilder собирает поля конфигурации отправителя.
// Обязательные поля задаются в NewConfigBuilder, остальные опциональны
// и получают значения по умолчанию при Build().
type ConfigBuilder struct {
	frameSampleRate uint32
	frameChannels   codec.ChannelSet
	frameEncoding   codec.FrameEncoding

	packetSampleRate uint32
	packetChannels   codec.ChannelSet
	packetEncoding   codec.PacketEncoding
	packetLength     time.Duration

	packetInterleaving bool
	automaticTiming    bool

	resamplerProfile codec.ResamplerProfile

	fecCode               codec.FecCode
	fecBlockSourcePackets int
	fecBlockRepairPackets int
}

// NewConfigBuilder создает builder с обязательными полями:
// частота, набор каналов и кодирование семплов в кадрах отправителя.
func NewConfigBuilder(frameSampleRate uint32, frameChannels codec.ChannelSet, frameEncoding codec.FrameEncoding) *ConfigBuilder {
	return &ConfigBuilder{
		frameSampleRate: frameSampleRate,
		frameChannels:   frameChannels,
		frameEncoding:   frameEncoding,
	}
}

// PacketSampleRate задает частоту семплов в пакетах.
// Если не задана, используется частота кадров.
func (b *ConfigBuilder) PacketSampleRate(rate uint32) *ConfigBuilder {
	b.packetSampleRate = rate
	return b
}

// PacketChannels задает набор каналов в пакетах.
// Если не задан, используется набор каналов кадров.
func (b *ConfigBuilder) PacketChannels(channels codec.ChannelSet) *ConfigBuilder {
	b.packetChannels = channels
	return b
}

// PacketEncoding задает кодирование семплов в пакетах
func (b *ConfigBuilder) PacketEncoding(encoding codec.PacketEncoding) *ConfigBuilder {
	b.packetEncoding = encoding
	return b
}

// PacketLength задает длительность одного пакета. Семплы буферизуются,
// пока не накопится полный пакет. Большее значение снижает накладные
// расходы, но увеличивает задержку.
func (b *ConfigBuilder) PacketLength(length time.Duration) *ConfigBuilder {
	b.packetLength = length
	return b
}

// PacketInterleaving включает перемешивание пакетов перед отправкой.
// Повышает устойчивость к пакетным потерям, но увеличивает задержку.
func (b *ConfigBuilder) PacketInterleaving(enabled bool) *ConfigBuilder {
	b.packetInterleaving = enabled
	return b
}

// AutomaticTiming включает автоматический тайминг: Write ограничивает
// скорость записи согласно частоте кадров. Режим для non-realtime
// источников, например аудио файлов.
func (b *ConfigBuilder) AutomaticTiming(enabled bool) *ConfigBuilder {
	b.automaticTiming = enabled
	return b
}

// ResamplerProfile задает профиль ресемплера
func (b *ConfigBuilder) ResamplerProfile(profile codec.ResamplerProfile) *ConfigBuilder {
	b.resamplerProfile = profile
	return b
}

// FecCode задает FEC код. При включенном FEC отправителю требуются
// отдельные source и repair порты.
func (b *ConfigBuilder) FecCode(code codec.FecCode) *ConfigBuilder {
	b.fecCode = code
	return b
}

// FecBlockSourcePackets задает количество исходных пакетов на FEC блок
func (b *ConfigBuilder) FecBlockSourcePackets(n int) *ConfigBuilder {
	b.fecBlockSourcePackets = n
	return b
}

// FecBlockRepairPackets задает количество восстановительных пакетов на FEC блок
func (b *ConfigBuilder) FecBlockRepairPackets(n int) *ConfigBuilder {
	b.fecBlockRepairPackets = n
	return b
}

// Build валидирует собранные поля и возвращает неизменяемую конфигурацию.
// При ошибке валидации builder остается в прежнем состоянии и может быть
// исправлен и собран повторно.
func (b *ConfigBuilder) Build() (Config, error) {
	if b.frameSampleRate == 0 {
		return Config{}, newError(ErrorCodeInvalidArgument, "",
			"частота семплов кадра должна быть больше нуля")
	}
	if b.frameChannels.Count() == 0 {
		return Config{}, newError(ErrorCodeInvalidArgument, "",
			"набор каналов кадра не задан")
	}
	if b.frameEncoding != codec.FrameEncodingPCMFloat {
		return Config{}, newError(ErrorCodeInvalidArgument, "",
			"кодирование кадра не задано")
	}

	cfg := Config{
		frameSampleRate:       b.frameSampleRate,
		frameChannels:         b.frameChannels,
		frameEncoding:         b.frameEncoding,
		packetSampleRate:      b.packetSampleRate,
		packetChannels:        b.packetChannels,
		packetEncoding:        b.packetEncoding,
		packetLength:          b.packetLength,
		packetInterleaving:    b.packetInterleaving,
		automaticTiming:       b.automaticTiming,
		resamplerProfile:      b.resamplerProfile,
		fecCode:               b.fecCode,
		fecBlockSourcePackets: b.fecBlockSourcePackets,
		fecBlockRepairPackets: b.fecBlockRepairPackets,
	}

	// Подстановка значений по умолчанию для незаданных полей
	if cfg.packetSampleRate == 0 {
		cfg.packetSampleRate = cfg.frameSampleRate
	}
	if cfg.packetChannels.Count() == 0 {
		cfg.packetChannels = cfg.frameChannels
	}
	if cfg.packetEncoding == 0 {
		cfg.packetEncoding = codec.PacketEncodingPCMInt16
	}
	if cfg.packetLength == 0 {
		cfg.packetLength = DefaultPacketLength
	}
	if cfg.packetLength < 0 {
		return Config{}, newError(ErrorCodeInvalidArgument, "",
			"длительность пакета не может быть отрицательной")
	}
	if cfg.resamplerProfile == 0 {
		cfg.resamplerProfile = codec.ResamplerMedium
	}
	if cfg.fecCode == 0 {
		cfg.fecCode = codec.FecDefault
	}
	// FecDefault разрешается в RS8M на этапе валидации:
	// дальше по движку default-значение не встречается
	if cfg.fecCode == codec.FecDefault {
		cfg.fecCode = codec.FecRS8M
	}
	if cfg.fecBlockSourcePackets == 0 {
		cfg.fecBlockSourcePackets = DefaultFecBlockSourcePackets
	}
	if cfg.fecBlockRepairPackets == 0 {
		cfg.fecBlockRepairPackets = DefaultFecBlockRepairPackets
	}
	if cfg.fecBlockSourcePackets < 0 || cfg.fecBlockRepairPackets < 0 {
		return Config{}, newError(ErrorCodeInvalidArgument, "",
			"размеры FEC блока не могут быть отрицательными")
	}

	// Отключенный ресемплер требует совпадения частот кадров и пакетов
	if cfg.resamplerProfile == codec.ResamplerDisable && cfg.frameSampleRate != cfg.packetSampleRate {
		return Config{}, newError(ErrorCodeInvalidArgument, "",
			"ресемплер отключен, но частоты кадров и пакетов различаются")
	}

	return cfg, nil
}
