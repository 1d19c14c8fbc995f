package sender

import (
	"errors"
	"sync"
	"time"
)

// errPacerInterrupted возвращается когда ожидание темпа прервано
// закрытием сессии
var errPacerInterrupted = errors.New("ожидание темпа прервано закрытием сессии")

// pacer ограничивает скорость записи согласно целевой частоте семплов.
//
// Алгоритм: при первой записи фиксируется опорная метка t0 и обнуляется
// счетчик семплов n. Для каждой записи из k семплов вычисляется
// target = t0 + n/rate; если текущее время раньше target, вызывающий
// поток блокируется до target, иначе запись продолжается немедленно.
// Отстающие писатели не наказываются: догоняющих пауз нет, дрейф назад
// не корректируется, предотвращается только опережение.
//
// Слот времени (инкремент n) резервируется под mutex'ом до сна, поэтому
// конкурентные записи темперируются независимо и не искажают счетчик.
type pacer struct {
	rate uint32

	mutex   sync.Mutex
	started bool
	t0      time.Time
	samples uint64

	// now подменяется в тестах
	now func() time.Time
}

// newPacer создает контроллер темпа для заданной частоты семплов
func newPacer(rate uint32) *pacer {
	return &pacer{
		rate: rate,
		now:  time.Now,
	}
}

// gate блокирует вызывающий поток, пока не наступит время кодировать
// следующие samplesPerChannel семплов. Ожидание прерывается закрытием
// канала interrupt; в этом случае возвращается errPacerInterrupted.
// Возвращает фактическую длительность ожидания.
func (p *pacer) gate(samplesPerChannel int, interrupt <-chan struct{}) (time.Duration, error) {
	p.mutex.Lock()

	if !p.started {
		p.t0 = p.now()
		p.started = true
	}

	// Момент, когда должна начаться эта запись
	target := p.t0.Add(time.Duration(p.samples * uint64(time.Second) / uint64(p.rate)))
	p.samples += uint64(samplesPerChannel)

	wait := target.Sub(p.now())
	p.mutex.Unlock()

	if wait <= 0 {
		return 0, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return wait, nil
	case <-interrupt:
		return 0, errPacerInterrupted
	}
}
