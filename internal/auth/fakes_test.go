package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// testClock drives every time-dependent component in a test through one
// adjustable instant.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory Store with the same observable semantics as the
// Postgres repository.
type memStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	security map[string]*SecurityState
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]*Account),
		security: make(map[string]*SecurityState),
	}
}

func (s *memStore) CreateAccount(_ context.Context, name, email, passwordHash string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, existing := range s.accounts {
		if existing.Email == email {
			return Account{}, ErrEmailTaken
		}
	}

	s.nextID++
	account := Account{
		ID:           fmt.Sprintf("acct-%d", s.nextID),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
	}
	s.accounts[account.ID] = &account
	s.security[account.ID] = &SecurityState{AccountID: account.ID}

	return account, nil
}

func (s *memStore) GetByEmail(_ context.Context, email string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, account := range s.accounts {
		if account.Email == email {
			return *account, nil
		}
	}

	return Account{}, ErrAccountNotFound
}

func (s *memStore) GetByID(_ context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account, ok := s.accounts[accountID]; ok {
		return *account, nil
	}

	return Account{}, ErrAccountNotFound
}

func (s *memStore) GetSecurityState(_ context.Context, accountID string) (SecurityState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.security[accountID]; ok {
		return *state, nil
	}

	return SecurityState{AccountID: accountID}, nil
}

func (s *memStore) RegisterFailedLogin(_ context.Context, accountID string, maxAttempts int, lockDuration time.Duration, now time.Time) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.securityLocked(accountID)

	if state.LockedUntil != nil && now.Before(*state.LockedUntil) {
		until := *state.LockedUntil
		return state.FailedAttempts, &until, nil
	}

	if state.LockedUntil != nil {
		state.FailedAttempts = 1
		state.LockedUntil = nil
	} else {
		state.FailedAttempts++
	}

	if state.FailedAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		state.LockedUntil = &until
		return state.FailedAttempts, &until, nil
	}

	return state.FailedAttempts, nil, nil
}

func (s *memStore) ClearLockout(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.securityLocked(accountID)
	state.FailedAttempts = 0
	state.LockedUntil = nil

	return nil
}

func (s *memStore) StoreOTP(_ context.Context, accountID, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.securityLocked(accountID)
	state.OTPCode = code
	state.OTPExpiresAt = &expiresAt

	return nil
}

func (s *memStore) ClearOTP(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.securityLocked(accountID)
	state.OTPCode = ""
	state.OTPExpiresAt = nil

	return nil
}

func (s *memStore) ConsumeOTP(_ context.Context, email, code string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for id, account := range s.accounts {
		if account.Email != email {
			continue
		}
		state := s.security[id]
		if state == nil || state.OTPCode == "" || state.OTPCode != code {
			break
		}
		if state.OTPExpiresAt == nil || !state.OTPExpiresAt.After(now) {
			break
		}
		state.OTPCode = ""
		state.OTPExpiresAt = nil
		return id, nil
	}

	return "", ErrInvalidOTP
}

func (s *memStore) UpdatePassword(_ context.Context, accountID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.PasswordHash = passwordHash

	return nil
}

func (s *memStore) deleteAccount(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, accountID)
	delete(s.security, accountID)
}

func (s *memStore) securityState(accountID string) SecurityState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.security[accountID]; ok {
		return *state
	}
	return SecurityState{AccountID: accountID}
}

// securityLocked returns the mutable state row; callers hold s.mu.
func (s *memStore) securityLocked(accountID string) *SecurityState {
	if state, ok := s.security[accountID]; ok {
		return state
	}
	state := &SecurityState{AccountID: accountID}
	s.security[accountID] = state
	return state
}

// countingHasher is a plaintext-marking hasher that records how many times
// Compare ran, so lockout tests can prove a locked login never consulted it.
type countingHasher struct {
	mu           sync.Mutex
	compareCalls int
}

func (h *countingHasher) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("password must not be empty")
	}
	return "hashed:" + plaintext, nil
}

func (h *countingHasher) Compare(plaintext, digest string) (bool, error) {
	h.mu.Lock()
	h.compareCalls++
	h.mu.Unlock()

	if plaintext == "" {
		return false, errors.New("password must not be empty")
	}
	if digest == "" {
		return false, errors.New("account has no password hash")
	}

	return digest == "hashed:"+plaintext, nil
}

func (h *countingHasher) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.compareCalls
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// recordingMailer captures outbound mail and can be told to fail.
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return m.fail
	}

	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) last() (sentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sent) == 0 {
		return sentMail{}, false
	}
	return m.sent[len(m.sent)-1], true
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *recordingMailer) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}
