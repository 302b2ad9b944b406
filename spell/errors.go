package spell

import (
	"errors"
	"fmt"
)

type ErrorCode string

// Normalization.
const (
	DUPLICATE_APPS  ErrorCode = "DUPLICATE_APPS"
	MISSING_UTXO_ID ErrorCode = "MISSING_UTXO_ID"
	DUPLICATE_INPUT ErrorCode = "DUPLICATE_INPUT"
	DUPLICATE_REF   ErrorCode = "DUPLICATE_REF"
	UNKNOWN_APP_KEY ErrorCode = "UNKNOWN_APP_KEY"
	INVALID_BEAM    ErrorCode = "INVALID_BEAM"
)

// Well-formedness.
const (
	VERSION_MISMATCH          ErrorCode = "VERSION_MISMATCH"
	APP_INDEX_OUT_OF_RANGE    ErrorCode = "APP_INDEX_OUT_OF_RANGE"
	MISSING_INS               ErrorCode = "MISSING_INS"
	INPUT_NOT_BACKED          ErrorCode = "INPUT_NOT_BACKED"
	REF_NOT_BACKED            ErrorCode = "REF_NOT_BACKED"
	BEAMED_OUT_SPENT          ErrorCode = "BEAMED_OUT_SPENT"
	BEAM_INPUT_UNKNOWN        ErrorCode = "BEAM_INPUT_UNKNOWN"
	BEAM_HOST_HAS_SPELL       ErrorCode = "BEAM_HOST_HAS_SPELL"
	BEAM_SOURCE_MISSING       ErrorCode = "BEAM_SOURCE_MISSING"
	BEAM_DESTINATION_MISMATCH ErrorCode = "BEAM_DESTINATION_MISMATCH"
)

type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func newError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// CodeOf returns the code carried by err, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
