package codec

import "fmt"

// Frame - упорядоченная последовательность чередующихся семплов с указанием
// набора каналов и кодирования. Буфер Samples принадлежит вызывающему:
// движок копирует данные при приеме, поэтому после возврата из Write
// буфер можно переиспользовать или освобождать.
type Frame struct {
	Samples  []float32
	Channels ChannelSet
	Encoding FrameEncoding
}

// SamplesPerChannel возвращает количество семплов на канал
func (f Frame) SamplesPerChannel() int {
	n := f.Channels.Count()
	if n == 0 {
		return 0
	}
	return len(f.Samples) / n
}

// Validate проверяет согласованность кадра: непустой буфер, заданные
// канальность и кодирование, кратность длины буфера числу каналов.
func (f Frame) Validate() error {
	if len(f.Samples) == 0 {
		return fmt.Errorf("кадр пуст")
	}
	if f.Channels.Count() == 0 {
		return fmt.Errorf("набор каналов кадра не задан")
	}
	if f.Encoding != FrameEncodingPCMFloat {
		return fmt.Errorf("кодирование кадра не задано")
	}
	if len(f.Samples)%f.Channels.Count() != 0 {
		return fmt.Errorf("длина кадра %d не кратна числу каналов %d",
			len(f.Samples), f.Channels.Count())
	}
	return nil
}

// Clone возвращает глубокую копию кадра
func (f Frame) Clone() Frame {
	samples := make([]float32, len(f.Samples))
	copy(samples, f.Samples)
	return Frame{Samples: samples, Channels: f.Channels, Encoding: f.Encoding}
}
