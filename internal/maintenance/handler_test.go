package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nikitakandwal/taskm/internal/auth"
)

type stubPurger struct {
	result auth.CleanupResult
	err    error
	calls  int
}

func (s *stubPurger) PurgeStaleSecurity(_ context.Context, _ time.Duration, _ int) (auth.CleanupResult, error) {
	s.calls++
	return s.result, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanupWithoutSecretIsInvisible(t *testing.T) {
	handler := NewCleanupHandler(&stubPurger{}, discardLogger(), "", 30*24*time.Hour, 500)

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupRejectsBadSecret(t *testing.T) {
	purger := &stubPurger{}
	handler := NewCleanupHandler(purger, discardLogger(), "cron-secret", 30*24*time.Hour, 500)

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, purger.calls)
}

func TestCleanupRuns(t *testing.T) {
	purger := &stubPurger{result: auth.CleanupResult{ClearedOTPChallenges: 3, ClearedLockouts: 2}}
	handler := NewCleanupHandler(purger, discardLogger(), "cron-secret", 30*24*time.Hour, 500)

	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, purger.calls)
	assert.Contains(t, rec.Body.String(), `"cleared_otp_challenges":3`)
}

func TestCleanupReportsFailure(t *testing.T) {
	purger := &stubPurger{err: errors.New("db down")}
	handler := NewCleanupHandler(purger, discardLogger(), "cron-secret", 30*24*time.Hour, 500)

	req := httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rec := httptest.NewRecorder()
	handler.Handle(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
