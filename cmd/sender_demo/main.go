// Демонстрация движка отправителя: генерирует синусоиду и передает ее
// на удаленный приемник с автоматическим таймингом и FEC избыточностью.
//
// Запуск:
//
//	go run ./cmd/sender_demo -source 127.0.0.1:10001 -repair 127.0.0.1:10002
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/arzzra/stream_sender/pkg/codec"
	"github.com/arzzra/stream_sender/pkg/sender"
	"github.com/arzzra/stream_sender/pkg/transport"
)

const (
	sampleRate = 44100
	frequency  = 440.0
	frameSize  = 441 // 10ms при 44100 Гц
)

func main() {
	sourceAddr := flag.String("source", "127.0.0.1:10001", "адрес source порта приемника")
	repairAddr := flag.String("repair", "127.0.0.1:10002", "адрес repair порта приемника")
	disableFec := flag.Bool("no-fec", false, "отключить FEC")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelDebug)

	if err := run(*sourceAddr, *repairAddr, *disableFec); err != nil {
		fmt.Fprintf(os.Stderr, "ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run(sourceAddr, repairAddr string, disableFec bool) error {
	ctx := transport.NewContext(transport.ContextConfig{})
	defer func() {
		if err := ctx.Close(); err != nil {
			slog.Error("ошибка закрытия контекста", "error", err)
		}
	}()

	builder := sender.NewConfigBuilder(sampleRate,
		codec.ChannelSetStereo, codec.FrameEncodingPCMFloat).
		AutomaticTiming(true)
	if disableFec {
		builder.FecCode(codec.FecDisable)
	} else {
		builder.FecCode(codec.FecRS8M)
	}

	cfg, err := builder.Build()
	if err != nil {
		return err
	}

	snd, err := sender.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := snd.Close(); err != nil {
			slog.Error("ошибка закрытия отправителя", "error", err)
		}
	}()

	local := &transport.Address{Family: transport.FamilyAuto, Host: "0.0.0.0", Port: 0}
	if err := snd.Bind(local); err != nil {
		return err
	}
	slog.Info("отправитель привязан", "local", local.String())

	source, err := parseAddress(sourceAddr)
	if err != nil {
		return err
	}
	sourceProto := sender.ProtocolRTP
	if !disableFec {
		sourceProto = sender.ProtocolRTPRS8MSource
	}
	if err := snd.Connect(sender.PortAudioSource, sourceProto, source); err != nil {
		return err
	}

	if !disableFec {
		repair, err := parseAddress(repairAddr)
		if err != nil {
			return err
		}
		if err := snd.Connect(sender.PortAudioRepair, sender.ProtocolRS8MRepair, repair); err != nil {
			return err
		}
	}

	if desc, err := snd.Describe(); err == nil {
		if raw, err := desc.Marshal(); err == nil {
			fmt.Println(string(raw))
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	slog.Info("передача запущена", "frequency", frequency)

	frame := make([]float32, frameSize*2)
	phase := 0.0
	step := 2 * math.Pi * frequency / sampleRate

	for {
		select {
		case <-sig:
			slog.Info("остановка по сигналу")
			return nil
		default:
		}

		for i := 0; i < frameSize; i++ {
			v := float32(math.Sin(phase)) * 0.5
			frame[i*2] = v
			frame[i*2+1] = v
			phase += step
		}

		// Write блокируется согласно частоте семплов: цикл темперируется сам
		if err := snd.WriteFloats(frame); err != nil {
			return err
		}
	}
}

// parseAddress разбирает строку "host:port" в transport.Address
func parseAddress(raw string) (*transport.Address, error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return nil, fmt.Errorf("невалидный адрес %q: %w", raw, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("невалидный порт %q: %w", portStr, err)
	}
	return transport.NewAddress(transport.FamilyAuto, host, port)
}
