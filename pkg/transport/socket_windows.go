//go:build windows

package transport

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// setSockOptVoice применяет Windows-специфичные настройки исходящего сокета.
// QoS на Windows управляется через qWAVE API на уровне приложения,
// на уровне сокета ограничиваемся буфером отправки и переиспользованием адреса.
func setSockOptVoice(fd int) error {
	handle := windows.Handle(fd)

	if err := windows.SetsockoptInt(handle, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
		if err != syscall.EINVAL {
			return err
		}
	}

	_ = windows.SetsockoptInt(handle, windows.SOL_SOCKET, windows.SO_SNDBUF, 1<<20)

	return nil
}
