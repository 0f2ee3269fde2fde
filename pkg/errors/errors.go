package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFileNotFound         = errors.New("file not found")
	ErrInvalidFileFormat    = errors.New("invalid file format")
	ErrEmptyFile            = errors.New("file has no data rows")
	ErrUnknownEntity        = errors.New("unknown import entity")
	ErrFileNotReady         = errors.New("file is not ready for submission")
	ErrFileTooLarge         = errors.New("file exceeds upload limit")
	ErrExternalAPITimeout   = errors.New("external API timeout")
	ErrExternalAPIError     = errors.New("external API error")
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// HeaderMismatchError rejects a whole upload whose header row differs from
// the expected column list.
type HeaderMismatchError struct {
	Expected []string
	Actual   []string
}

func (e *HeaderMismatchError) Error() string {
	return fmt.Sprintf("header row does not match, expected: %s", strings.Join(e.Expected, ", "))
}

type RetryableError struct {
	Err     error
	Message string
}

func (e RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %s - %s", e.Message, e.Err.Error())
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error, message string) error {
	return RetryableError{
		Err:     err,
		Message: message,
	}
}

func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re)
}
