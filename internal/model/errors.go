package model

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat       = errors.New("invalid phone number format")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrCodeExpired         = errors.New("verification code expired")
	ErrAttemptsExhausted   = errors.New("too many verification attempts")
	ErrCodeMismatch        = errors.New("verification code mismatch")
	ErrAlreadyVerified     = errors.New("pass already verified")
	ErrUnknownArtist       = errors.New("unknown artist")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrNoDevicesRegistered = errors.New("no devices registered")
	ErrBackendFailure      = errors.New("wallet backend failure")
)

var (
	ErrCodeNotFound = fmt.Errorf("verification code %w", ErrNotFound)
	ErrPassNotFound = fmt.Errorf("pass %w", ErrNotFound)
)

// CodeMismatchError is returned for a wrong guess that leaves the code live.
type CodeMismatchError struct {
	Remaining int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrCodeMismatch.Error(), e.Remaining)
}

func (e *CodeMismatchError) Is(target error) bool {
	return target == ErrCodeMismatch
}

// RemainingAttempts extracts the remaining attempt count from a mismatch error.
func RemainingAttempts(err error) (int, bool) {
	var mismatch *CodeMismatchError
	if errors.As(err, &mismatch) {
		return mismatch.Remaining, true
	}
	return 0, false
}
