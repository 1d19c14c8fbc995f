//go:build darwin

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const dscpEF = 46

// setSockOptVoice применяет macOS-специфичные настройки исходящего сокета.
// SO_PRIORITY на macOS недоступен, поэтому ограничиваемся DSCP маркировкой
// и защитой от SIGPIPE.
func setSockOptVoice(fd int) error {
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		return err
	}

	// SO_NOSIGPIPE предотвращает SIGPIPE при записи в закрытый сокет
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)

	// macOS может требовать root для некоторых TOS значений, ошибки не критичны
	tos := dscpEF << 2
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos)
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, 1<<20)

	return nil
}
