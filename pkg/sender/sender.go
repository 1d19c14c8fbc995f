// Package sender реализует движок сессии отправителя: машину состояний
// setup и streaming фаз, правила совместимости портов и протоколов,
// темперирование записи и оркестрацию конвейера кадр-в-пакеты.
//
// Отправитель получает аудио поток от пользователя, кодирует его в сетевые
// пакеты и передает их удаленному приемнику. Кодирование выполняется в
// потоке вызывающего, фактическая передача - в worker pool'е контекста.
//
// Жизненный цикл: Open -> Bind -> Connect (один или несколько) ->
// Write (итеративно) -> Close.
//
// Пример:
//
//	ctx := transport.NewContext(transport.ContextConfig{})
//	cfg, err := sender.NewConfigBuilder(44100,
//	    codec.ChannelSetStereo, codec.FrameEncodingPCMFloat).
//	    FecCode(codec.FecRS8M).
//	    AutomaticTiming(true).
//	    Build()
//	if err != nil {
//	    return err
//	}
//
//	snd, err := sender.Open(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer snd.Close()
//
//	local := &transport.Address{Host: "0.0.0.0", Port: 0}
//	if err := snd.Bind(local); err != nil {
//	    return err
//	}
//	snd.Connect(sender.PortAudioSource, sender.ProtocolRTPRS8MSource,
//	    &transport.Address{Host: "127.0.0.1", Port: 10001})
//	snd.Connect(sender.PortAudioRepair, sender.ProtocolRS8MRepair,
//	    &transport.Address{Host: "127.0.0.1", Port: 10002})
//
//	snd.WriteFloats([]float32{1.0, -1.0})
//
// Write безопасен для конкурентного вызова из нескольких goroutines.
// Bind и Connect - операции setup фазы и не должны вызываться конкурентно
// с Write или друг с другом.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/arzzra/stream_sender/pkg/codec"
	"github.com/arzzra/stream_sender/pkg/transport"
)

// State представляет состояние сессии отправителя
type State string

const (
	// StateCreated - сессия открыта, локальный адрес не привязан
	StateCreated State = "created"

	// StateBound - локальный адрес привязан
	StateBound State = "bound"

	// StateReady - подключен хотя бы один удаленный порт
	StateReady State = "ready"

	// StateStreaming - выполнен первый успешный Write, setup фаза завершена
	StateStreaming State = "streaming"

	// StateClosed - сессия закрыта, все операции возвращают Closed
	StateClosed State = "closed"

	// StateFailed - невосстановимая ошибка ввода-вывода во время streaming
	StateFailed State = "failed"
)

// formEventName формирует имя события FSM в формате "SRC->DST"
func formEventName(src, dst State) string {
	return string(src) + "->" + string(dst)
}

// TransmitSink - внешний коллаборатор, принимающий закодированные пакеты
// на асинхронную доставку. Реализуется transport.Context.
type TransmitSink interface {
	// Attach прикрепляет отправителя к стоку на время жизни сессии
	Attach() error

	// Detach открепляет отправителя
	Detach()

	// EnqueueBatch атомарно ставит батч пакетов в очередь доставки
	EnqueueBatch(batch []transport.Outbound) error
}

// connectedPort - подключенный удаленный порт
type connectedPort struct {
	protocol Protocol
	addr     transport.Address
	udpAddr  *net.UDPAddr
}

// Sender - сессия отправителя.
//
// Карта подключенных портов и привязанный адрес мутируются только в setup
// фазе и далее читаются без изменения. Состояние конвейера и контроллера
// темпа внутренние и наружу не отдаются.
type Sender struct {
	id     string
	cfg    Config
	sink   TransmitSink
	logger *slog.Logger

	fsm *fsm.FSM

	// mutex защищает setup-фазу (conn, localAddr, ports) и close
	mutex     sync.Mutex
	conn      *net.UDPConn
	localAddr *transport.Address
	ports     map[PortType]*connectedPort

	pacer *pacer
	pipe  *pipeline

	closeCh   chan struct{}
	closeOnce sync.Once
}

// Open открывает отправителя с эталонным кодеком и прикрепляет его
// к контексту передачи. Контекст не должен закрываться, пока отправитель
// не закрыт.
func Open(sink TransmitSink, cfg Config) (*Sender, error) {
	return OpenWithCodec(sink, cfg, codec.NewReferenceCodec())
}

// OpenWithCodec открывает отправителя с внешним кодеком-коллаборатором.
// При первом открытии в процессе разрешается пространство констант кодека;
// неудача разрешения фиксируется и возвращается как InitializationFailed
// без повторных попыток.
func OpenWithCodec(sink TransmitSink, cfg Config, c codec.Codec) (*Sender, error) {
	if sink == nil {
		return nil, newError(ErrorCodeInvalidArgument, "", "контекст передачи не задан")
	}
	if cfg.FrameSampleRate() == 0 {
		return nil, newError(ErrorCodeInvalidArgument, "", "конфигурация не задана или не валидирована")
	}
	if c == nil {
		return nil, newError(ErrorCodeInvalidArgument, "", "кодек не задан")
	}

	if _, err := codec.Resolve(c); err != nil {
		return nil, wrapError(ErrorCodeInitializationFailed, "",
			"не удалось разрешить пространство констант кодека", err)
	}

	id := uuid.NewString()

	pipe, err := newPipeline(cfg, c, id)
	if err != nil {
		return nil, wrapError(ErrorCodeIOFailure, id, "ошибка создания конвейера", err)
	}

	if err := sink.Attach(); err != nil {
		return nil, wrapError(ErrorCodeIOFailure, id, "ошибка прикрепления к контексту", err)
	}

	s := &Sender{
		id:      id,
		cfg:     cfg,
		sink:    sink,
		logger:  slog.Default().With("session", id),
		ports:   make(map[PortType]*connectedPort),
		pacer:   newPacer(cfg.FrameSampleRate()),
		pipe:    pipe,
		closeCh: make(chan struct{}),
	}
	s.initFSM()

	senderMetrics.sendersActive.Inc()
	s.logger.Debug("sender.Open", "fec", cfg.FecCode().String(),
		"frame_rate", cfg.FrameSampleRate(), "packet_rate", cfg.PacketSampleRate())

	return s, nil
}

/*
Машина состояний сессии:

	[created] -> [bound] -> [ready] -> [streaming]
	     \           \          \            \
	      +-----------+----------+------------+--> [closed]
	                                   |
	                                   +--> [failed] --> [closed]

Переходы:
  - created->bound:      успешный Bind
  - bound->ready:        первый успешный Connect
  - ready->streaming:    первый успешный Write
  - streaming->failed:   невосстановимый отказ стока передачи
  - *->closed:           успешный Close из любого состояния
*/
func (s *Sender) initFSM() {
	s.fsm = fsm.NewFSM(
		string(StateCreated),
		fsm.Events{
			{Name: formEventName(StateCreated, StateBound), Src: []string{string(StateCreated)}, Dst: string(StateBound)},
			{Name: formEventName(StateBound, StateReady), Src: []string{string(StateBound)}, Dst: string(StateReady)},
			{Name: formEventName(StateReady, StateStreaming), Src: []string{string(StateReady)}, Dst: string(StateStreaming)},
			{Name: formEventName(StateStreaming, StateFailed), Src: []string{string(StateStreaming)}, Dst: string(StateFailed)},
			{Name: formEventName(StateCreated, StateClosed), Src: []string{string(StateCreated)}, Dst: string(StateClosed)},
			{Name: formEventName(StateBound, StateClosed), Src: []string{string(StateBound)}, Dst: string(StateClosed)},
			{Name: formEventName(StateReady, StateClosed), Src: []string{string(StateReady)}, Dst: string(StateClosed)},
			{Name: formEventName(StateStreaming, StateClosed), Src: []string{string(StateStreaming)}, Dst: string(StateClosed)},
			{Name: formEventName(StateFailed, StateClosed), Src: []string{string(StateFailed)}, Dst: string(StateClosed)},
		}, fsm.Callbacks{
			"after_event": s.afterStateChange,
		})
}

func (s *Sender) afterStateChange(_ context.Context, e *fsm.Event) {
	s.logger.Debug("sender.stateChange", "from", e.Src, "to", e.Dst)
}

// State возвращает текущее состояние сессии
func (s *Sender) State() State {
	return State(s.fsm.Current())
}

// ID возвращает идентификатор сессии
func (s *Sender) ID() string {
	return s.id
}

// Config возвращает валидированную конфигурацию сессии
func (s *Sender) Config() Config {
	return s.cfg
}

// setState выполняет переход машины состояний
func (s *Sender) setState(dst State) error {
	return s.fsm.Event(context.TODO(), formEventName(s.State(), dst))
}

// Bind привязывает отправителя к локальному порту. Вызывается ровно один
// раз до первого Write. Если запрошен порт 0, выбирается эфемерный порт
// и фактическое значение записывается обратно в addr.
func (s *Sender) Bind(addr *transport.Address) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.State() {
	case StateClosed:
		return newError(ErrorCodeClosed, s.id, "сессия закрыта")
	case StateFailed:
		return newError(ErrorCodeIOFailure, s.id, "сессия в состоянии failed")
	case StateBound, StateReady, StateStreaming:
		return newError(ErrorCodeAlreadyBound, s.id, "отправитель уже привязан")
	}

	if addr == nil {
		return newError(ErrorCodeInvalidArgument, s.id, "адрес не задан")
	}

	conn, err := transport.BindUDP(addr)
	if err != nil {
		return wrapError(ErrorCodeIOFailure, s.id, "не удалось привязать адрес", err)
	}

	s.conn = conn
	bound := *addr
	s.localAddr = &bound

	_ = s.setState(StateBound)
	s.logger.Debug("sender.Bind", "local", addr.String())

	return nil
}

// Connect подключает отправителя к удаленному порту приемника.
// Вызывается один или несколько раз до первого Write. Роль порта и
// протокол должны совпадать с настройками этого порта на приемнике;
// тройка валидируется по таблице совместимости.
func (s *Sender) Connect(portType PortType, protocol Protocol, addr *transport.Address) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.State() {
	case StateClosed:
		return newError(ErrorCodeClosed, s.id, "сессия закрыта")
	case StateFailed:
		return newError(ErrorCodeIOFailure, s.id, "сессия в состоянии failed")
	case StateStreaming:
		return newError(ErrorCodeAlreadyStreaming, s.id, "запись уже началась, подключение портов запрещено")
	case StateCreated:
		return newError(ErrorCodeNotBound, s.id, "отправитель не привязан")
	}

	if addr == nil {
		return newError(ErrorCodeInvalidArgument, s.id, "адрес не задан")
	}
	if portType != PortAudioSource && portType != PortAudioRepair {
		return newError(ErrorCodeInvalidArgument, s.id, "неизвестная роль порта")
	}
	if _, exists := s.ports[portType]; exists {
		return newError(ErrorCodeInvalidArgument, s.id,
			fmt.Sprintf("порт %s уже подключен", portType))
	}

	required, ok := requiredProtocol(s.cfg.FecCode(), portType)
	if !ok || required != protocol {
		return &SenderError{
			Code:      ErrorCodeInvalidProtocol,
			Message:   fmt.Sprintf("протокол %s несовместим с FEC кодом %s и ролью порта %s", protocol, s.cfg.FecCode(), portType),
			SessionID: s.id,
			Context: map[string]interface{}{
				"fec_code":  s.cfg.FecCode().String(),
				"port_type": portType.String(),
				"protocol":  protocol.String(),
			},
		}
	}

	udpAddr, err := addr.UDPAddr()
	if err != nil {
		return wrapError(ErrorCodeInvalidArgument, s.id, "невалидный адрес порта", err)
	}

	s.ports[portType] = &connectedPort{
		protocol: protocol,
		addr:     *addr,
		udpAddr:  udpAddr,
	}

	if s.State() == StateBound {
		_ = s.setState(StateReady)
	}
	s.logger.Debug("sender.Connect", "port", portType.String(),
		"protocol", protocol.String(), "remote", addr.String())

	return nil
}

// Write кодирует семплы кадра в пакеты и ставит их в очередь передачи
// worker pool'а контекста. Возвращает управление после кодирования и
// постановки в очередь, не дожидаясь фактической передачи; буфер кадра
// после возврата снова принадлежит вызывающему.
//
// При включенном автоматическом тайминге вызов блокируется, пока не
// наступит время кодировать семплы согласно частоте кадров.
func (s *Sender) Write(frame codec.Frame) error {
	conn, ports, err := s.checkWriteState()
	if err != nil {
		senderMetrics.writeErrors.WithLabelValues(errorLabel(err)).Inc()
		return err
	}

	if err := s.checkFrame(frame); err != nil {
		senderMetrics.writeErrors.WithLabelValues(errorLabel(err)).Inc()
		return err
	}

	// Темперирование до кодирования: ожидание прерывается закрытием сессии
	if s.cfg.AutomaticTiming() {
		wait, err := s.pacer.gate(frame.SamplesPerChannel(), s.closeCh)
		if err != nil {
			closedErr := newError(ErrorCodeClosed, s.id, "сессия закрыта во время ожидания темпа")
			senderMetrics.writeErrors.WithLabelValues(closedErr.Code.String()).Inc()
			return closedErr
		}
		if wait > 0 {
			senderMetrics.pacingWait.Observe(wait.Seconds())
		}
	}

	// Постановка в очередь выполняется внутри push под mutex'ом конвейера:
	// откат при отказе стока не может затронуть конкурентные записи
	var enqueued []outPacket
	var sinkErr error
	err = s.pipe.push(frame, func(batch []outPacket) error {
		if len(batch) == 0 {
			return nil
		}

		outbound := make([]transport.Outbound, len(batch))
		for i, pkt := range batch {
			port := ports[pkt.port]
			outbound[i] = transport.Outbound{
				Conn:    conn,
				Dest:    port.udpAddr,
				Payload: pkt.payload,
			}
		}

		if err := s.sink.EnqueueBatch(outbound); err != nil {
			sinkErr = s.mapSinkError(err)
			return err
		}

		enqueued = batch
		return nil
	})
	if err != nil {
		if sinkErr != nil {
			senderMetrics.writeErrors.WithLabelValues(errorLabel(sinkErr)).Inc()
			return sinkErr
		}
		ioErr := wrapError(ErrorCodeIOFailure, s.id, "конвейер не принял кадр", err)
		senderMetrics.writeErrors.WithLabelValues(ioErr.Code.String()).Inc()
		return ioErr
	}

	for _, pkt := range enqueued {
		senderMetrics.packetsEnqueued.WithLabelValues(pkt.port.String()).Inc()
	}

	// Первый успешный Write завершает setup фазу
	if s.State() == StateReady {
		_ = s.setState(StateStreaming)
	}

	senderMetrics.framesWritten.Inc()
	senderMetrics.samplesWritten.Add(float64(frame.SamplesPerChannel()))

	return nil
}

// WriteFloats - удобная форма Write: кадр собирается из чередующихся
// семплов с канальностью и кодированием из конфигурации.
func (s *Sender) WriteFloats(samples []float32) error {
	return s.Write(codec.Frame{
		Samples:  samples,
		Channels: s.cfg.FrameChannels(),
		Encoding: s.cfg.FrameEncoding(),
	})
}

// WriteFloat записывает один семпл. Применима только к моно конфигурациям:
// для многоканальных кадр из одного семпла не кратен числу каналов.
func (s *Sender) WriteFloat(sample float32) error {
	return s.WriteFloats([]float32{sample})
}

// checkWriteState проверяет готовность сессии к записи и возвращает
// снимок сокета и карты портов. Карта портов после setup фазы читается
// без изменения, снимок под mutex'ом защищает от гонки с Bind/Connect.
func (s *Sender) checkWriteState() (*net.UDPConn, map[PortType]*connectedPort, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	switch s.State() {
	case StateClosed:
		return nil, nil, newError(ErrorCodeClosed, s.id, "сессия закрыта")
	case StateFailed:
		return nil, nil, newError(ErrorCodeIOFailure, s.id, "сессия в состоянии failed")
	case StateCreated:
		return nil, nil, newError(ErrorCodeNotBound, s.id, "отправитель не привязан")
	case StateBound:
		return nil, nil, newError(ErrorCodeNotConnected, s.id, "не подключен ни один порт")
	}

	// Для активного FEC кода обязаны быть подключены все требуемые порты
	for _, portType := range requiredPorts(s.cfg.FecCode()) {
		if _, ok := s.ports[portType]; !ok {
			return nil, nil, newError(ErrorCodeNotConnected, s.id,
				fmt.Sprintf("порт %s не подключен", portType))
		}
	}

	ports := make(map[PortType]*connectedPort, len(s.ports))
	for k, v := range s.ports {
		ports[k] = v
	}

	return s.conn, ports, nil
}

// checkFrame валидирует кадр против конфигурации сессии
func (s *Sender) checkFrame(frame codec.Frame) error {
	if err := frame.Validate(); err != nil {
		return wrapError(ErrorCodeInvalidArgument, s.id, "невалидный кадр", err)
	}
	if frame.Channels != s.cfg.FrameChannels() {
		return newError(ErrorCodeInvalidArgument, s.id,
			fmt.Sprintf("канальность кадра %s не совпадает с конфигурацией %s",
				frame.Channels, s.cfg.FrameChannels()))
	}
	if frame.Encoding != s.cfg.FrameEncoding() {
		return newError(ErrorCodeInvalidArgument, s.id,
			fmt.Sprintf("кодирование кадра %s не совпадает с конфигурацией %s",
				frame.Encoding, s.cfg.FrameEncoding()))
	}
	return nil
}

// mapSinkError преобразует ошибку стока передачи в ошибку отправителя.
// Переполнение очереди допускает повтор записи; закрытый контекст -
// невосстановимый отказ, сессия переводится в failed.
func (s *Sender) mapSinkError(err error) error {
	switch {
	case errors.Is(err, transport.ErrQueueFull):
		return wrapError(ErrorCodeResourceExhausted, s.id,
			"очередь передачи не приняла пакеты кадра", err)
	case errors.Is(err, transport.ErrContextClosed):
		// Сток ушел навсегда: из streaming переходим в failed,
		// из ready переход не выполняется (failed достижим только из streaming)
		_ = s.fsm.Event(context.TODO(), formEventName(StateStreaming, StateFailed))
		return wrapError(ErrorCodeIOFailure, s.id, "контекст передачи закрыт", err)
	default:
		return wrapError(ErrorCodeIOFailure, s.id, "ошибка постановки пакетов в очередь", err)
	}
}

// errorLabel возвращает метку кода ошибки для метрик
func errorLabel(err error) string {
	var senderErr *SenderError
	if errors.As(err, &senderErr) {
		return senderErr.Code.String()
	}
	return "Unknown"
}

// BoundAddress возвращает копию привязанного локального адреса
// или nil, если Bind еще не выполнялся
func (s *Sender) BoundAddress() *transport.Address {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.localAddr == nil {
		return nil
	}
	bound := *s.localAddr
	return &bound
}

// ConnectedPorts возвращает протоколы и адреса подключенных портов
func (s *Sender) ConnectedPorts() map[PortType]transport.Address {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make(map[PortType]transport.Address, len(s.ports))
	for k, v := range s.ports {
		out[k] = v.addr
	}
	return out
}

// Close закрывает отправителя и открепляет его от контекста передачи.
// Успешный Close идемпотентен: повторный вызов возвращает nil и не
// выполняет никаких действий. При ошибке закрытия сокета сессия остается
// полностью рабочей в прежнем состоянии и Close можно повторить.
//
// Закрытие освобождает писателей, заблокированных в ожидании темпа:
// их Write завершается ошибкой Closed.
func (s *Sender) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.State() == StateClosed {
		return nil
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return wrapError(ErrorCodeCloseFailed, s.id, "не удалось закрыть сокет", err)
		}
		s.conn = nil
	}

	s.closeOnce.Do(func() {
		close(s.closeCh)
	})

	_ = s.setState(StateClosed)
	s.sink.Detach()

	senderMetrics.sendersActive.Dec()
	s.logger.Debug("sender.Close")

	return nil
}
