package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Nikitakandwal/taskm/internal/mail"
)

const (
	defaultMaxAttempts  = 5
	defaultLockDuration = 30 * time.Minute
	defaultOTPTTL       = 15 * time.Minute

	maxNameLength = 50

	otpMin = 100000
	otpMax = 999999
)

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	otpRegex   = regexp.MustCompile(`^\d{6}$`)
	hasDigit   = regexp.MustCompile(`\d`)
	hasLetter  = regexp.MustCompile(`[a-zA-Z]`)
)

// Store is the credential-store contract the service orchestrates against.
// Implemented by *Repository; tests substitute an in-memory fake.
type Store interface {
	CreateAccount(ctx context.Context, name, email, passwordHash string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	GetByID(ctx context.Context, accountID string) (Account, error)
	GetSecurityState(ctx context.Context, accountID string) (SecurityState, error)
	RegisterFailedLogin(ctx context.Context, accountID string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error)
	ClearLockout(ctx context.Context, accountID string) error
	StoreOTP(ctx context.Context, accountID, code string, expiresAt time.Time) error
	ClearOTP(ctx context.Context, accountID string) error
	ConsumeOTP(ctx context.Context, email, code string, now time.Time) (string, error)
	UpdatePassword(ctx context.Context, accountID, passwordHash string) error
}

// Service orchestrates registration, login with lockout, and the OTP-based
// password-reset flow.
type Service struct {
	store        Store
	hasher       PasswordHasher
	tokens       *TokenIssuer
	mailer       mail.Sender
	maxAttempts  int
	lockDuration time.Duration
	otpTTL       time.Duration
	now          func() time.Time
}

func NewService(store Store, hasher PasswordHasher, tokens *TokenIssuer, mailer mail.Sender) *Service {
	return &Service{
		store:        store,
		hasher:       hasher,
		tokens:       tokens,
		mailer:       mailer,
		maxAttempts:  defaultMaxAttempts,
		lockDuration: defaultLockDuration,
		otpTTL:       defaultOTPTTL,
		now:          time.Now,
	}
}

func (s *Service) WithSecurityConfig(maxAttempts int, lockDuration, otpTTL time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if lockDuration > 0 {
		s.lockDuration = lockDuration
	}
	if otpTTL > 0 {
		s.otpTTL = otpTTL
	}
}

// Register creates an account and signs the caller straight in.
func (s *Service) Register(ctx context.Context, name, email, password string) (Account, string, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	if name == "" {
		return Account{}, "", ValidationError{Status: http.StatusBadRequest, Message: "Name is required"}
	}
	if len(name) > maxNameLength {
		return Account{}, "", ValidationError{Status: http.StatusBadRequest, Message: "Name cannot be more than 50 characters"}
	}
	if !emailRegex.MatchString(email) {
		return Account{}, "", ValidationError{Status: http.StatusBadRequest, Message: "Invalid email format"}
	}
	if msg := checkPasswordStrength(password, "Password must be at least 8 characters long"); msg != "" {
		return Account{}, "", ValidationError{Status: http.StatusBadRequest, Message: msg}
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return Account{}, "", fmt.Errorf("hash password: %w", err)
	}

	account, err := s.store.CreateAccount(ctx, name, email, digest)
	if err != nil {
		return Account{}, "", err
	}

	token, err := s.tokens.IssueSession(account.ID)
	if err != nil {
		return Account{}, "", err
	}

	return account, token, nil
}

// Login checks credentials under the lockout policy and issues a session
// token. While an account is locked the stored hash is never consulted.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)

	if email == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	now := s.now().UTC()

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	state, err := s.store.GetSecurityState(ctx, account.ID)
	if err != nil {
		return "", err
	}
	if state.Locked(now) {
		return "", AccountLockedError{Until: *state.LockedUntil}
	}

	match, err := s.hasher.Compare(password, account.PasswordHash)
	if err != nil {
		return "", err
	}

	if !match {
		failed, lockedUntil, err := s.store.RegisterFailedLogin(ctx, account.ID, s.maxAttempts, s.lockDuration, now)
		if err != nil {
			return "", err
		}
		if lockedUntil != nil {
			return "", AccountLockedError{Until: *lockedUntil}
		}
		return "", BadPasswordError{Remaining: s.maxAttempts - failed}
	}

	if err := s.store.ClearLockout(ctx, account.ID); err != nil {
		return "", err
	}

	return s.tokens.IssueSession(account.ID)
}

// RequestReset issues an OTP challenge and emails the code. An unknown
// email reports success without creating a challenge so callers cannot
// probe for registered addresses. A delivery failure rolls the challenge
// back before it is reported.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !emailRegex.MatchString(email) {
		return ValidationError{Status: http.StatusBadRequest, Message: "Invalid email format"}
	}

	account, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}

	code, err := generateOTP()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}

	expiresAt := s.now().UTC().Add(s.otpTTL)
	if err := s.store.StoreOTP(ctx, account.ID, code, expiresAt); err != nil {
		return err
	}

	subject := "Your Password Reset Code"
	body := fmt.Sprintf("Your OTP code is: %s (expires in %d minutes)", code, int(s.otpTTL.Minutes()))
	if err := s.mailer.Send(ctx, account.Email, subject, body); err != nil {
		if clearErr := s.store.ClearOTP(ctx, account.ID); clearErr != nil {
			return errors.Join(DeliveryError{Err: err}, clearErr)
		}
		return DeliveryError{Err: err}
	}

	return nil
}

// VerifyOTP consumes a pending challenge and exchanges it for a short-lived
// reset-authorization token. Wrong account, wrong code, and expired code
// are indistinguishable to the caller.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (string, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)

	if !emailRegex.MatchString(email) || !otpRegex.MatchString(code) {
		return "", ErrInvalidOTP
	}

	accountID, err := s.store.ConsumeOTP(ctx, email, code, s.now().UTC())
	if err != nil {
		return "", err
	}

	return s.tokens.IssueReset(accountID)
}

// ConfirmReset changes the password identified by a reset-authorization
// token and signs the caller in. Weak passwords are rejected before any
// mutation, so the old credential keeps working.
func (s *Service) ConfirmReset(ctx context.Context, resetToken, newPassword string) (string, error) {
	accountID, err := s.tokens.VerifyReset(resetToken)
	if err != nil {
		return "", err
	}

	account, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Account vanished after the OTP was verified; the link is
			// as good as expired.
			return "", ErrResetTokenExpired
		}
		return "", err
	}

	if msg := checkPasswordStrength(newPassword, "Password must be at least 8 characters"); msg != "" {
		return "", ValidationError{Status: http.StatusUnprocessableEntity, Message: msg}
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", fmt.Errorf("hash new password: %w", err)
	}

	if err := s.store.UpdatePassword(ctx, account.ID, digest); err != nil {
		return "", err
	}

	// Proving control of the email ends any lockout streak; the user can
	// sign in with the new password right away.
	if err := s.store.ClearLockout(ctx, account.ID); err != nil {
		return "", err
	}

	return s.tokens.IssueSession(account.ID)
}

// Profile returns the account behind a verified session token.
func (s *Service) Profile(ctx context.Context, accountID string) (Account, error) {
	return s.store.GetByID(ctx, accountID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkPasswordStrength(password, tooShortMessage string) string {
	if len(password) < 8 {
		return tooShortMessage
	}
	if !hasDigit.MatchString(password) || !hasLetter.MatchString(password) {
		return "Password must contain both letters and numbers"
	}
	return ""
}

// generateOTP draws a uniform 6-digit code from a cryptographically secure
// source.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(otpMax-otpMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+otpMin), nil
}
