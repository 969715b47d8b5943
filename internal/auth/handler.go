package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type resetPasswordRequest struct {
	TempToken string `json:"tempToken"`
	Password  string `json:"password"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var body signupRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	account, token, err := h.service.Register(r.Context(), body.Name, body.Email, body.Password)
	if err != nil {
		var validationErr ValidationError
		switch {
		case errors.As(err, &validationErr):
			writeError(w, validationErr.Status, validationErr.Message)
		case errors.Is(err, ErrEmailTaken):
			writeError(w, http.StatusConflict, "User already exists")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "Failed to create account. Please try again later.")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data": map[string]any{
			"id":    account.ID,
			"name":  account.Name,
			"email": account.Email,
			"token": token,
		},
		"message": "Account created successfully!",
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	token, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		var badPassword BadPasswordError
		var locked AccountLockedError
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		case errors.As(err, &badPassword):
			writeError(w, http.StatusUnauthorized,
				fmt.Sprintf("Invalid credentials. %d attempts remaining", badPassword.Remaining))
		case errors.As(err, &locked):
			now := h.service.now().UTC()
			retryAfter := int(locked.Until.Sub(now).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusForbidden,
				fmt.Sprintf("Account locked. Try again in %d minutes", locked.RemainingMinutes(now)))
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var body sendOTPRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.RequestReset(r.Context(), body.Email); err != nil {
		var validationErr ValidationError
		var deliveryErr DeliveryError
		switch {
		case errors.As(err, &validationErr):
			writeError(w, validationErr.Status, validationErr.Message)
		case errors.As(err, &deliveryErr):
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "Failed to send OTP email")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body verifyOTPRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tempToken, err := h.service.VerifyOTP(r.Context(), body.Email, body.OTP)
	if err != nil {
		if errors.Is(err, ErrInvalidOTP) {
			writeError(w, http.StatusBadRequest, "Invalid or expired OTP")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"tempToken": tempToken,
	})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	token, err := h.service.ConfirmReset(r.Context(), body.TempToken, body.Password)
	if err != nil {
		var validationErr ValidationError
		switch {
		case errors.Is(err, ErrResetTokenExpired):
			writeError(w, http.StatusUnauthorized, "Password reset link has expired")
		case errors.Is(err, ErrResetTokenInvalid):
			writeError(w, http.StatusUnauthorized, "Invalid password reset link")
		case errors.As(err, &validationErr):
			writeError(w, validationErr.Status, validationErr.Message)
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "Failed to update password")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
	})
}

// Me returns the account summary behind the bearer token. It doubles as
// the reference consumer of the session middleware for the task endpoints.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	accountID, ok := AccountIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authorized")
		return
	}

	account, err := h.service.Profile(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			writeError(w, http.StatusUnauthorized, "Not authorized")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    account.Summary(),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}
