package hunt

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示记录不存在。
	ErrNotFound = errors.New("not found")
	// ErrConflict 表示唯一约束冲突或并发写入冲突。
	ErrConflict = errors.New("conflict")
	// ErrInvalid 表示输入不合法。
	ErrInvalid = errors.New("invalid input")
	// ErrForbidden 表示当前状态下不允许该操作，例如比赛未开始。
	ErrForbidden = errors.New("forbidden")
)

// Error 携带面向用户的消息，Kind 为上面的哨兵错误之一。
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalidf(format string, args ...any) error {
	return newError(ErrInvalid, format, args...)
}

func forbiddenf(format string, args ...any) error {
	return newError(ErrForbidden, format, args...)
}

func notFoundf(format string, args ...any) error {
	return newError(ErrNotFound, format, args...)
}

func conflictf(format string, args ...any) error {
	return newError(ErrConflict, format, args...)
}
