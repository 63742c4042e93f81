package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrStudentNotFound   = errors.New("student not found")
	ErrRateLimitExceeded = errors.New("too many OTP requests")
	ErrNoPendingOTP      = errors.New("no pending OTP for this record")
	ErrOTPExpired        = errors.New("OTP has expired")
	ErrOTPMismatch       = errors.New("incorrect OTP")
	ErrUnauthorized      = errors.New("not authorized to update this record")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDuplicateStudent  = errors.New("student already registered")
	ErrDeliveryFailure   = errors.New("failed to deliver OTP email")
	ErrRecordBusy        = errors.New("record is busy, retry shortly")
	ErrSearchUnavailable = errors.New("search is not enabled")
)

// RateLimitError reports when the caller may try again. It unwraps to
// ErrRateLimitExceeded so errors.Is keeps working at call sites that do
// not care about the retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many OTP requests, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}
