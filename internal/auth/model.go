package auth

import "time"

type Account struct {
	ID            string
	Name          string
	Email         string
	PasswordHash  string
	Role          string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccountSummary is the client-facing shape of an account. The password
// hash never leaves the auth package.
type AccountSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a Account) Summary() AccountSummary {
	return AccountSummary{ID: a.ID, Name: a.Name, Email: a.Email}
}

// SecurityState is the per-account lockout and OTP aggregate. It lives in
// its own table so counters and OTP material can be updated atomically
// without rewriting the account row.
type SecurityState struct {
	AccountID      string
	FailedAttempts int
	LockedUntil    *time.Time
	OTPCode        string
	OTPExpiresAt   *time.Time
}

func (s SecurityState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}
