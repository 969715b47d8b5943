package auth

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrAccountNotFound    = errors.New("account not found")
	ErrInvalidOTP         = errors.New("invalid or expired otp")
	ErrResetTokenExpired  = errors.New("reset token expired")
	ErrResetTokenInvalid  = errors.New("reset token invalid")
	ErrSessionInvalid     = errors.New("session token invalid")
)

// AccountLockedError rejects a login while the lock window is open.
type AccountLockedError struct {
	Until time.Time
}

func (e AccountLockedError) Error() string {
	return "account temporarily locked"
}

// RemainingMinutes reports the wait surfaced to the legitimate user,
// rounded up so the client never retries early.
func (e AccountLockedError) RemainingMinutes(now time.Time) int {
	minutes := int(e.Until.Sub(now).Minutes())
	if e.Until.Sub(now)%time.Minute != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// BadPasswordError is a failed password check against an existing account
// that did not trip the lockout. Remaining is the attempt budget left.
type BadPasswordError struct {
	Remaining int
}

func (e BadPasswordError) Error() string {
	return fmt.Sprintf("invalid credentials, %d attempts remaining", e.Remaining)
}

// ValidationError carries a user-correctable input problem along with the
// HTTP status the boundary should answer with.
type ValidationError struct {
	Status  int
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// DeliveryError wraps an outbound email failure that forced an OTP rollback.
type DeliveryError struct {
	Err error
}

func (e DeliveryError) Error() string {
	return "otp delivery failed: " + e.Err.Error()
}

func (e DeliveryError) Unwrap() error {
	return e.Err
}
