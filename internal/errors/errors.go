// Package errors classifies failures that cross package boundaries.
// The update coordinator treats every failure of a check the same way,
// so callers branch on Code rather than on the concrete cause.
package errors

import "errors"

// Code names a failure class.
type Code string

const (
	CodeUnknown Code = "unknown"

	// A check that could not complete: network, provider, malformed release.
	CodeUpdateCheckFailed Code = "update_check_failed"
	CodeDownloadFailed    Code = "download_failed"
	// The staged binary could not replace the running one.
	CodeInstallFailed Code = "install_failed"

	CodeBridge             Code = "bridge_failed"
	CodeConfigurationError Code = "configuration_error"
)

// Error carries a Code, the operation that failed, and its cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e Error) Unwrap() error {
	return e.Err
}

// Is matches a bare Error{Code: c}, so errors.Is(err, Kind(c)) tests the
// class of any error in the chain.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Code == e.Code
}

// New wraps err as a failure of class code while doing msg.
func New(code Code, msg string, err error) Error {
	return Error{Code: code, Message: msg, Err: err}
}

// Wrap is New that passes a nil err through as nil.
func Wrap(code Code, msg string, err error) error {
	if err == nil {
		return nil
	}
	return New(code, msg, err)
}

// Kind returns a target for errors.Is that matches any Error of class code.
func Kind(code Code) error {
	return Error{Code: code}
}

// CodeOf returns the class of the outermost Error in err's chain.
func CodeOf(err error) Code {
	var classified Error
	if errors.As(err, &classified) {
		return classified.Code
	}
	return CodeUnknown
}

// IsCode reports whether err's outermost Error has class code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
