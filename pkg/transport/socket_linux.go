//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// DSCP Expedited Forwarding - стандартная маркировка для голосового трафика
const dscpEF = 46

// setSockOptVoice применяет Linux-специфичные настройки исходящего
// голосового сокета: приоритет, DSCP маркировку и увеличенный буфер отправки.
func setSockOptVoice(fd int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}

	// Приоритет 6 соответствует интерактивному аудио.
	// Ошибку игнорируем: в контейнерах опция может быть запрещена.
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

	// DSCP находится в старших 6 битах TOS поля
	tos := dscpEF << 2
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos)
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	// Увеличенный буфер отправки сглаживает всплески при FEC блоках
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, 1<<20)

	return nil
}
