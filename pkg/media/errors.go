package media

import "fmt"

// MediaErrorCode код ошибки медиа слоя
type MediaErrorCode int

const (
	ErrorCodeCodecUnsupported MediaErrorCode = iota + 1000
	ErrorCodeFrameSizeInvalid
	ErrorCodePacketInvalid
)

// String возвращает строковое представление кода ошибки
func (code MediaErrorCode) String() string {
	switch code {
	case ErrorCodeCodecUnsupported:
		return "CodecUnsupported"
	case ErrorCodeFrameSizeInvalid:
		return "FrameSizeInvalid"
	case ErrorCodePacketInvalid:
		return "PacketInvalid"
	default:
		return fmt.Sprintf("Unknown(%d)", int(code))
	}
}

// MediaError ошибка медиа слоя с типизированным кодом
type MediaError struct {
	Code    MediaErrorCode
	Message string
	Wrapped error
}

func (e *MediaError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[медиа:%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[медиа:%s] %s", e.Code, e.Message)
}

// Unwrap возвращает обернутую ошибку
func (e *MediaError) Unwrap() error {
	return e.Wrapped
}

// Is сравнивает ошибки по коду
func (e *MediaError) Is(target error) bool {
	if t, ok := target.(*MediaError); ok {
		return e.Code == t.Code
	}
	return false
}

// HasErrorCode проверяет, содержит ли цепочка ошибок MediaError с кодом code
func HasErrorCode(err error, code MediaErrorCode) bool {
	for err != nil {
		if me, ok := err.(*MediaError); ok && me.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newCodecError(pt PayloadType) *MediaError {
	return &MediaError{
		Code:    ErrorCodeCodecUnsupported,
		Message: fmt.Sprintf("неподдерживаемый кодек %s", pt),
	}
}
