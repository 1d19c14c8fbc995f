package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Ошибки контекста передачи
var (
	// ErrQueueFull возвращается когда очередь передачи не может принять
	// пакет или пакетный батч целиком
	ErrQueueFull = errors.New("очередь передачи заполнена")

	// ErrContextClosed возвращается при постановке пакета в закрытый контекст
	ErrContextClosed = errors.New("контекст закрыт")

	// ErrSendersAttached возвращается при попытке закрыть контекст,
	// к которому еще прикреплены отправители
	ErrSendersAttached = errors.New("к контексту прикреплены отправители")
)

// Outbound - единица передачи: сериализованный пакет, исходящий сокет
// и адрес назначения. После постановки в очередь пакет принадлежит
// контексту; доставка выполняется best-effort.
type Outbound struct {
	Conn    *net.UDPConn
	Dest    *net.UDPAddr
	Payload []byte
}

// ContextConfig - конфигурация контекста передачи
type ContextConfig struct {
	// QueueSize - емкость очереди передачи. По умолчанию 256 пакетов.
	QueueSize int

	// Workers - количество фоновых worker goroutines. По умолчанию 1:
	// один worker сохраняет порядок отправки равным порядку постановки.
	Workers int

	// Logger для диагностики доставки. По умолчанию slog.Default().
	Logger *slog.Logger
}

// Context владеет worker pool'ом, выполняющим фактическую отправку пакетов.
// Отправители прикрепляются к контексту при открытии и открепляются при
// закрытии; контекст нельзя закрыть, пока к нему прикреплены отправители.
type Context struct {
	queue  chan Outbound
	logger *slog.Logger

	mutex    sync.Mutex
	closed   bool
	attached int

	wg sync.WaitGroup
}

// NewContext создает контекст передачи и запускает worker pool
func NewContext(config ContextConfig) *Context {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &Context{
		queue:  make(chan Outbound, config.QueueSize),
		logger: config.Logger,
	}

	c.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go c.transmitLoop(i)
	}

	return c
}

// transmitLoop - фоновый worker, выполняющий отправку пакетов из очереди
func (c *Context) transmitLoop(worker int) {
	defer c.wg.Done()

	c.logger.Debug("transport.transmitLoop Started", "worker", worker)

	for ob := range c.queue {
		if ob.Conn == nil || ob.Dest == nil {
			continue
		}
		if _, err := ob.Conn.WriteToUDP(ob.Payload, ob.Dest); err != nil {
			// Доставка best-effort: ошибку логируем и продолжаем
			c.logger.Debug("transport.transmitLoop ошибка отправки",
				"worker", worker, "dest", ob.Dest.String(), "error", err)
		}
	}

	c.logger.Debug("transport.transmitLoop Stopped", "worker", worker)
}

// Enqueue ставит один пакет в очередь передачи без блокировки.
// Возвращает ErrQueueFull если очередь заполнена.
func (c *Context) Enqueue(ob Outbound) error {
	return c.EnqueueBatch([]Outbound{ob})
}

// EnqueueBatch атомарно ставит в очередь батч пакетов: либо принимаются
// все пакеты, либо ни один. Частичная постановка батча не выполняется,
// чтобы пакеты одного кадра не передавались частично.
func (c *Context) EnqueueBatch(batch []Outbound) error {
	if len(batch) == 0 {
		return nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	if cap(c.queue)-len(c.queue) < len(batch) {
		return fmt.Errorf("%w: свободно %d, требуется %d",
			ErrQueueFull, cap(c.queue)-len(c.queue), len(batch))
	}

	// Под mutex'ом емкость гарантирована, отправка не блокируется
	for _, ob := range batch {
		c.queue <- ob
	}

	return nil
}

// Attach прикрепляет отправителя к контексту.
// Возвращает ошибку если контекст уже закрыт.
func (c *Context) Attach() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrContextClosed
	}
	c.attached++
	return nil
}

// Detach открепляет отправителя от контекста
func (c *Context) Detach() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.attached > 0 {
		c.attached--
	}
}

// Attached возвращает количество прикрепленных отправителей
func (c *Context) Attached() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.attached
}

// Close останавливает worker pool после дренажа очереди.
// Возвращает ErrSendersAttached пока к контексту прикреплены отправители;
// в этом случае контекст остается полностью рабочим. Повторный Close
// закрытого контекста возвращает nil.
func (c *Context) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	if c.attached > 0 {
		c.mutex.Unlock()
		return fmt.Errorf("%w: %d", ErrSendersAttached, c.attached)
	}
	c.closed = true
	close(c.queue)
	c.mutex.Unlock()

	c.wg.Wait()
	return nil
}
