// Package apperr はエンジン全体で使うエラー分類を定義します。
// 呼び出し側は Kind を見て、リトライ可否やHTTPステータスを決めます。
package apperr

import (
	"errors"
	"fmt"
)

// Kind はエラーの分類です。
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation は不正な入力。リトライしない。
	KindValidation
	// KindConflict は現在のライフサイクル/クレーム状態では実行できない操作。
	KindConflict
	// KindNotFound は参照先(コンテスト、エントリー、クレーム)が存在しない。
	KindNotFound
	// KindTransient はストレージのタイムアウトや競合。同じ冪等操作で再実行できる。
	KindTransient
	// KindInvariant は設定の不整合(重複した賞品ティアなど)。致命的として扱う。
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a classified error. Code is a stable machine-readable identifier.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, code string, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validationf is shorthand for an ad-hoc validation failure.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: "invalid_input", Message: fmt.Sprintf(format, args...), Err: ErrInvalidInput}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind != KindUnknown {
			return e.Kind
		}
		return KindOf(e.Err)
	}
	return KindUnknown
}

// CodeOf returns the code of the first classified error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// IsTransient reports whether err may succeed when the same idempotent operation is retried.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}
