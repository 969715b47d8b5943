package maintenance

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Nikitakandwal/taskm/internal/auth"
)

// SecurityPurger clears expired OTP challenges and stale lockout rows.
type SecurityPurger interface {
	PurgeStaleSecurity(ctx context.Context, lockoutRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

// CleanupHandler is a cron-invoked endpoint guarded by a shared secret.
// With no secret configured it answers 404 so the route stays invisible.
type CleanupHandler struct {
	purger           SecurityPurger
	logger           *slog.Logger
	cronSecret       string
	lockoutRetention time.Duration
	batchSize        int
}

func NewCleanupHandler(purger SecurityPurger, logger *slog.Logger, cronSecret string, lockoutRetention time.Duration, batchSize int) *CleanupHandler {
	return &CleanupHandler{
		purger:           purger,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		lockoutRetention: lockoutRetention,
		batchSize:        batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return
	}

	result, err := h.purger.PurgeStaleSecurity(r.Context(), h.lockoutRetention, h.batchSize)
	if err != nil {
		h.logger.Error("security_cleanup_failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "cleanup failed"})
		return
	}

	h.logger.Info("security_cleanup_completed",
		"cleared_otp_challenges", result.ClearedOTPChallenges,
		"cleared_lockouts", result.ClearedLockouts,
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
