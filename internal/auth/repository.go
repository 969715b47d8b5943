package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// Repository is the Postgres credential store. It exclusively owns account
// rows and their security state; lockout counters and OTP material are only
// ever changed through the atomic operations below.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type CleanupResult struct {
	ClearedOTPChallenges int64 `json:"cleared_otp_challenges"`
	ClearedLockouts      int64 `json:"cleared_lockouts"`
}

func (r *Repository) CreateAccount(ctx context.Context, name, email, passwordHash string) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	now := time.Now().UTC()
	account := Account{
		ID:           id.String(),
		Name:         name,
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		Role:         "user",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, fmt.Errorf("begin create account tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, name, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, account.ID, account.Name, account.Email, account.PasswordHash, account.Role, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Account{}, ErrEmailTaken
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_security (account_id, failed_attempts, updated_at)
		VALUES ($1, 0, $2)
	`, account.ID, now); err != nil {
		return Account{}, fmt.Errorf("insert account security state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Account{}, fmt.Errorf("commit create account tx: %w", err)
	}

	return account, nil
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (Account, error) {
	return r.getAccount(ctx, `
		SELECT id, name, email, password_hash, role, email_verified, created_at, updated_at
		FROM accounts
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *Repository) GetByID(ctx context.Context, accountID string) (Account, error) {
	return r.getAccount(ctx, `
		SELECT id, name, email, password_hash, role, email_verified, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, accountID)
}

func (r *Repository) getAccount(ctx context.Context, query, arg string) (Account, error) {
	var account Account
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&account.Role,
		&account.EmailVerified,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}

	return account, nil
}

func (r *Repository) GetSecurityState(ctx context.Context, accountID string) (SecurityState, error) {
	state := SecurityState{AccountID: accountID}

	var lockedUntil, otpExpiresAt sql.NullTime
	var otpCode sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until, otp_code, otp_expires_at
		FROM account_security
		WHERE account_id = $1
	`, accountID).Scan(&state.FailedAttempts, &lockedUntil, &otpCode, &otpExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state, nil
		}
		return SecurityState{}, fmt.Errorf("query security state: %w", err)
	}

	if lockedUntil.Valid {
		value := lockedUntil.Time.UTC()
		state.LockedUntil = &value
	}
	if otpCode.Valid {
		state.OTPCode = otpCode.String
	}
	if otpExpiresAt.Valid {
		value := otpExpiresAt.Time.UTC()
		state.OTPExpiresAt = &value
	}

	return state, nil
}

// RegisterFailedLogin bumps the failed-attempt counter under a row lock so
// two concurrent failures cannot land on the same count. An expired lock
// window makes the failing attempt count 1, not a continuation of the old
// streak. Returns the new counter value and the lock deadline, if any.
func (r *Repository) RegisterFailedLogin(ctx context.Context, accountID string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin failed login tx: %w", err)
	}
	defer tx.Rollback()

	var failed int
	var lockedUntil sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT failed_attempts, locked_until
		FROM account_security
		WHERE account_id = $1
		FOR UPDATE
	`, accountID).Scan(&failed, &lockedUntil)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("lock security state row: %w", err)
	}

	if lockedUntil.Valid && now.Before(lockedUntil.Time) {
		until := lockedUntil.Time.UTC()
		if err := tx.Commit(); err != nil {
			return 0, nil, fmt.Errorf("commit existing lock tx: %w", err)
		}
		return failed, &until, nil
	}

	if lockedUntil.Valid {
		// Lock window elapsed; this failure starts a fresh streak.
		failed = 1
	} else {
		failed++
	}

	var nextLock *time.Time
	var nextLockValue any
	if failed >= maxAttempts {
		until := now.UTC().Add(lockDuration)
		nextLock = &until
		nextLockValue = until
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_security (account_id, failed_attempts, locked_until, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id)
		DO UPDATE SET
			failed_attempts = EXCLUDED.failed_attempts,
			locked_until = EXCLUDED.locked_until,
			updated_at = EXCLUDED.updated_at
	`, accountID, failed, nextLockValue, now.UTC())
	if err != nil {
		return 0, nil, fmt.Errorf("upsert failed login: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit failed login tx: %w", err)
	}

	return failed, nextLock, nil
}

func (r *Repository) ClearLockout(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account_security
		SET failed_attempts = 0, locked_until = NULL, updated_at = $2
		WHERE account_id = $1
	`, accountID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}

	return nil
}

// StoreOTP replaces any previous challenge; at most one OTP is active per
// account.
func (r *Repository) StoreOTP(ctx context.Context, accountID, code string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_security (account_id, otp_code, otp_expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id)
		DO UPDATE SET
			otp_code = EXCLUDED.otp_code,
			otp_expires_at = EXCLUDED.otp_expires_at,
			updated_at = EXCLUDED.updated_at
	`, accountID, code, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store otp challenge: %w", err)
	}

	return nil
}

func (r *Repository) ClearOTP(ctx context.Context, accountID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE account_security
		SET otp_code = NULL, otp_expires_at = NULL, updated_at = $2
		WHERE account_id = $1
	`, accountID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear otp challenge: %w", err)
	}

	return nil
}

// ConsumeOTP atomically matches and clears a pending challenge in a single
// statement. The predicate covers email, code, and expiry together, so a
// miss never reveals which of them was wrong, and a matched code can only
// be consumed once.
func (r *Repository) ConsumeOTP(ctx context.Context, email, code string, now time.Time) (string, error) {
	var accountID string
	err := r.db.QueryRowContext(ctx, `
		UPDATE account_security s
		SET otp_code = NULL, otp_expires_at = NULL, updated_at = $3
		FROM accounts a
		WHERE a.id = s.account_id
		  AND a.email = $1
		  AND s.otp_code = $2
		  AND s.otp_expires_at > $3
		RETURNING a.id
	`, strings.ToLower(strings.TrimSpace(email)), code, now.UTC()).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidOTP
		}
		return "", fmt.Errorf("consume otp challenge: %w", err)
	}

	return accountID, nil
}

func (r *Repository) UpdatePassword(ctx context.Context, accountID, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, updated_at = $3
		WHERE id = $1
	`, accountID, passwordHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// PurgeStaleSecurity clears expired OTP challenges and resets lockout rows
// whose lock window has long passed. Counters only shrink here; active
// locks are never touched.
func (r *Repository) PurgeStaleSecurity(ctx context.Context, lockoutRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if lockoutRetention <= 0 {
		lockoutRetention = 24 * time.Hour
	}

	now := time.Now().UTC()

	otps, err := r.clearExpiredOTPs(ctx, now, batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	lockouts, err := r.clearStaleLockouts(ctx, now.Add(-lockoutRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}

	return CleanupResult{
		ClearedOTPChallenges: otps,
		ClearedLockouts:      lockouts,
	}, nil
}

func (r *Repository) clearExpiredOTPs(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT account_id
			FROM account_security
			WHERE otp_expires_at IS NOT NULL AND otp_expires_at < $1
			ORDER BY otp_expires_at ASC
			LIMIT $2
		)
		UPDATE account_security s
		SET otp_code = NULL, otp_expires_at = NULL, updated_at = $1
		FROM stale
		WHERE s.account_id = stale.account_id
	`, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired otp challenges: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired otp rows affected: %w", err)
	}

	return affected, nil
}

func (r *Repository) clearStaleLockouts(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT account_id
			FROM account_security
			WHERE updated_at < $1
			  AND (failed_attempts > 0 OR locked_until IS NOT NULL)
			  AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY updated_at ASC
			LIMIT $2
		)
		UPDATE account_security s
		SET failed_attempts = 0, locked_until = NULL, updated_at = NOW()
		FROM stale
		WHERE s.account_id = stale.account_id
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear stale lockouts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale lockout rows affected: %w", err)
	}

	return affected, nil
}
