package sender

import (
	"errors"
	"fmt"
)

// ErrorCode определяет типизированные коды ошибок движка отправителя.
// Все ошибки валидации обнаруживаются синхронно до изменения состояния
// сессии; ошибки передачи (IOFailure, ResourceExhausted) допускают повтор.
type ErrorCode int

const (
	// ErrorCodeInvalidArgument - невалидный или отсутствующий аргумент
	ErrorCodeInvalidArgument ErrorCode = iota + 1000

	// ErrorCodeAlreadyBound - повторный вызов Bind
	ErrorCodeAlreadyBound

	// ErrorCodeAlreadyStreaming - Connect после первого успешного Write
	ErrorCodeAlreadyStreaming

	// ErrorCodeInvalidProtocol - протокол несовместим с FEC кодом и ролью порта
	ErrorCodeInvalidProtocol

	// ErrorCodeNotBound - операция требует предварительного Bind
	ErrorCodeNotBound

	// ErrorCodeNotConnected - не подключены все порты, требуемые FEC кодом
	ErrorCodeNotConnected

	// ErrorCodeResourceExhausted - очередь передачи не приняла пакеты кадра
	ErrorCodeResourceExhausted

	// ErrorCodeIOFailure - ошибка ввода-вывода при bind или передаче
	ErrorCodeIOFailure

	// ErrorCodeClosed - операция над закрытой сессией
	ErrorCodeClosed

	// ErrorCodeCloseFailed - Close не удался, сессия осталась открытой
	ErrorCodeCloseFailed

	// ErrorCodeInitializationFailed - не удалось разрешить пространство
	// констант кодека при открытии отправителя
	ErrorCodeInitializationFailed
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeInvalidArgument:
		return "InvalidArgument"
	case ErrorCodeAlreadyBound:
		return "AlreadyBound"
	case ErrorCodeAlreadyStreaming:
		return "AlreadyStreaming"
	case ErrorCodeInvalidProtocol:
		return "InvalidProtocol"
	case ErrorCodeNotBound:
		return "NotBound"
	case ErrorCodeNotConnected:
		return "NotConnected"
	case ErrorCodeResourceExhausted:
		return "ResourceExhausted"
	case ErrorCodeIOFailure:
		return "IOFailure"
	case ErrorCodeClosed:
		return "Closed"
	case ErrorCodeCloseFailed:
		return "CloseFailed"
	case ErrorCodeInitializationFailed:
		return "InitializationFailed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// SenderError - базовая структура ошибок движка отправителя.
// Содержит типизированный код, идентификатор сессии для сопоставления
// с логами и опциональную обернутую ошибку нижнего слоя.
type SenderError struct {
	Code      ErrorCode
	Message   string
	SessionID string
	Context   map[string]interface{}
	Wrapped   error
}

// Error реализует интерфейс error
func (e *SenderError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("[отправитель:%s] сессия %s: %s", e.Code, e.SessionID, e.Message)
	}
	return fmt.Sprintf("[отправитель:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку, поддерживая errors.Unwrap
func (e *SenderError) Unwrap() error {
	return e.Wrapped
}

// Is поддерживает errors.Is, позволяя сравнивать ошибки по коду
func (e *SenderError) Is(target error) bool {
	if t, ok := target.(*SenderError); ok {
		return e.Code == t.Code
	}
	return false
}

// newError создает SenderError с кодом и сообщением
func newError(code ErrorCode, sessionID, message string) *SenderError {
	return &SenderError{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
	}
}

// wrapError оборачивает ошибку нижнего слоя в SenderError
func wrapError(code ErrorCode, sessionID, message string, err error) *SenderError {
	return &SenderError{
		Code:      code,
		Message:   message,
		SessionID: sessionID,
		Wrapped:   err,
	}
}

// HasErrorCode проверяет, содержит ли цепочка ошибок указанный код
func HasErrorCode(err error, code ErrorCode) bool {
	var senderErr *SenderError
	if errors.As(err, &senderErr) {
		return senderErr.Code == code
	}
	return false
}
