// game/errors.go
package game

import (
	"errors"
	"fmt"
)

// Kind 错误分类，决定连接层如何回应
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindConcurrency
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindConcurrency:
		return "concurrency"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error wraps a cause with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf formats a new error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

var (
	ErrInvalidGuessShape  = &Error{Kind: KindValidation, Err: errors.New("invalid guess shape")}
	ErrInvalidGuessLength = &Error{Kind: KindValidation, Err: errors.New("invalid guess length")}
	ErrInvalidConfig      = &Error{Kind: KindValidation, Err: errors.New("invalid game config")}
	ErrGameAlreadyOver    = &Error{Kind: KindState, Err: errors.New("game is already over")}
	ErrRoomFull           = &Error{Kind: KindState, Err: errors.New("room is full")}
	ErrInvalidTransition  = &Error{Kind: KindState, Err: errors.New("invalid game phase transition")}
)
