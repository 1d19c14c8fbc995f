// Package transport содержит сетевые адреса и контекст передачи -
// асинхронный worker pool, через который отправитель ставит пакеты
// в очередь на доставку.
package transport

import (
	"fmt"
	"net"
)

// Family определяет семейство адресов
type Family int

const (
	// FamilyAuto выбирает семейство автоматически при разрешении адреса
	FamilyAuto Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyAuto:
		return "auto"
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Address - сетевой адрес конечной точки. Port равный нулю означает
// запрос эфемерного порта: после успешного bind фактический порт
// записывается обратно в ту же структуру.
type Address struct {
	Family Family
	Host   string
	Port   int
}

// NewAddress создает адрес с проверкой диапазона порта
func NewAddress(family Family, host string, port int) (*Address, error) {
	if host == "" {
		return nil, fmt.Errorf("хост не может быть пустым")
	}
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("порт %d вне диапазона [0; 65535]", port)
	}
	return &Address{Family: family, Host: host, Port: port}, nil
}

func (a *Address) String() string {
	return net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port))
}

// network возвращает имя сети для net.ResolveUDPAddr согласно семейству
func (a *Address) network() string {
	switch a.Family {
	case FamilyIPv4:
		return "udp4"
	case FamilyIPv6:
		return "udp6"
	default:
		return "udp"
	}
}

// UDPAddr разрешает адрес в *net.UDPAddr
func (a *Address) UDPAddr() (*net.UDPAddr, error) {
	udpAddr, err := net.ResolveUDPAddr(a.network(), a.String())
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения адреса %s: %w", a.String(), err)
	}
	return udpAddr, nil
}

// BindUDP привязывает локальный UDP сокет к адресу. Если запрошен порт 0,
// выбирается эфемерный порт и его значение записывается обратно в addr.
// Сокет настраивается для передачи голосового трафика (см. socket_*.go).
func BindUDP(addr *Address) (*net.UDPConn, error) {
	if addr == nil {
		return nil, fmt.Errorf("адрес не задан")
	}

	localAddr, err := addr.UDPAddr()
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP(addr.network(), localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка привязки %s: %w", addr.String(), err)
	}

	if err := tuneSocketForVoice(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	// Записываем фактический порт обратно в адрес
	if bound, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		addr.Port = bound.Port
	}

	return conn, nil
}

// tuneSocketForVoice применяет платформо-специфичные настройки сокета
func tuneSocketForVoice(conn *net.UDPConn) error {
	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		sockErr = setSockOptVoice(int(fd))
	})
	if err != nil {
		return err
	}
	return sockErr
}
