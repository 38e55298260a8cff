package transfer

import "fmt"

// ErrorCode код ошибки координатора
type ErrorCode int

const (
	ErrorCodeAlreadyTransferring ErrorCode = iota + 2000
	ErrorCodeInvalidRequest
	ErrorCodeBadAudioAsset
	ErrorCodeUnknownHandle
	ErrorCodeNotActive
	ErrorCodeClosed
)

// String возвращает строковое представление кода ошибки
func (code ErrorCode) String() string {
	switch code {
	case ErrorCodeAlreadyTransferring:
		return "AlreadyTransferring"
	case ErrorCodeInvalidRequest:
		return "InvalidRequest"
	case ErrorCodeBadAudioAsset:
		return "BadAudioAsset"
	case ErrorCodeUnknownHandle:
		return "UnknownHandle"
	case ErrorCodeNotActive:
		return "NotActive"
	case ErrorCodeClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// Error ошибка координатора переводов.
// errors.Is сравнивает ошибки по коду, поэтому с сентинелами ниже
// совпадает любая Error с тем же кодом независимо от сообщения.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[перевод:%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[перевод:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

var (
	ErrAlreadyTransferring = &Error{Code: ErrorCodeAlreadyTransferring, Message: "перевод уже выполняется"}
	ErrInvalidRequest      = &Error{Code: ErrorCodeInvalidRequest, Message: "некорректный запрос перевода"}
	ErrBadAudioAsset       = &Error{Code: ErrorCodeBadAudioAsset, Message: "музыка удержания не загружена"}
	ErrUnknownHandle       = &Error{Code: ErrorCodeUnknownHandle, Message: "неизвестный перевод"}
	ErrNotActive           = &Error{Code: ErrorCodeNotActive, Message: "вызов не в состоянии active"}
	ErrClosed              = &Error{Code: ErrorCodeClosed, Message: "координатор остановлен"}
)

func newError(code ErrorCode, message string, wrapped error) *Error {
	return &Error{Code: code, Message: message, Wrapped: wrapped}
}
